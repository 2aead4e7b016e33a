package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Tenant governance kernel build information.",
		},
		[]string{"service", "version", "commit"},
	)
)

// InitBuildInfo registers build_info once and sets it for the given binary.
func InitBuildInfo(service, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(service, version, commit).Set(1)
}
