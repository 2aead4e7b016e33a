// Package retention classifies records by how long they must be kept.
package retention

import (
	"strings"
	"time"

	"tenantgov.org/internal/apperr"
)

// Category is a statutory retention class.
type Category int

const (
	Fiscal Category = iota + 1
	Payroll
	Medical
	Personnel
	Audit
)

// ParseCategory parses the stored name of a category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fiscal":
		return Fiscal, nil
	case "payroll":
		return Payroll, nil
	case "medical":
		return Medical, nil
	case "personnel":
		return Personnel, nil
	case "audit":
		return Audit, nil
	default:
		return 0, apperr.InvalidArgument("unknown retention category " + s)
	}
}

func (c Category) String() string {
	switch c {
	case Fiscal:
		return "fiscal"
	case Payroll:
		return "payroll"
	case Medical:
		return "medical"
	case Personnel:
		return "personnel"
	case Audit:
		return "audit"
	default:
		return "unknown"
	}
}

// Years is the minimum number of years records of the category are kept.
func (c Category) Years() int {
	switch c {
	case Fiscal, Payroll:
		return 7
	case Medical:
		return 20
	case Personnel:
		return 2
	case Audit:
		return 10
	default:
		return 0
	}
}

// RequiresEncryption reports whether records must be encrypted at rest.
func (c Category) RequiresEncryption() bool {
	switch c {
	case Medical, Personnel, Payroll:
		return true
	case Fiscal, Audit:
		return false
	default:
		return true
	}
}

// RetainUntil returns the earliest moment a record created at createdAt may be destroyed.
func (c Category) RetainUntil(createdAt time.Time) time.Time {
	return createdAt.UTC().AddDate(c.Years(), 0, 0)
}

// DossierType is the kind of file a record belongs to.
type DossierType int

const (
	ClientDossier DossierType = iota + 1
	EmployeeDossier
	MedicalDossier
	FinancialDossier
	PayrollDossier
)

// ParseDossierType parses the stored name of a dossier type.
func ParseDossierType(s string) (DossierType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client":
		return ClientDossier, nil
	case "employee":
		return EmployeeDossier, nil
	case "medical":
		return MedicalDossier, nil
	case "financial":
		return FinancialDossier, nil
	case "payroll":
		return PayrollDossier, nil
	default:
		return 0, apperr.InvalidArgument("unknown dossier type " + s)
	}
}

func (d DossierType) String() string {
	switch d {
	case ClientDossier:
		return "client"
	case EmployeeDossier:
		return "employee"
	case MedicalDossier:
		return "medical"
	case FinancialDossier:
		return "financial"
	case PayrollDossier:
		return "payroll"
	default:
		return "unknown"
	}
}

// Category maps the dossier onto its retention class.
func (d DossierType) Category() Category {
	switch d {
	case ClientDossier, FinancialDossier:
		return Fiscal
	case EmployeeDossier:
		return Personnel
	case MedicalDossier:
		return Medical
	case PayrollDossier:
		return Payroll
	default:
		return Audit
	}
}

// RequiresEncryption follows the dossier's category.
func (d DossierType) RequiresEncryption() bool {
	return d.Category().RequiresEncryption()
}
