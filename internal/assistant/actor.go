package assistant

// Actor is the caller context driving authorization and tenant scoping.
// Exactly one of ClientID / EmployeeID is expected to be set: customers act
// through their client record, staff through their employee record.
// Fine-grained permission checks are delegated to the CRM API per call;
// the dispatcher only decides which tool registry the actor may reach.
type Actor struct {
	CompanyID  int64
	ClientID   int64 // customer identity, 0 when not a customer
	EmployeeID int64 // staff identity, 0 when not staff
}

// IsCustomer reports whether the actor acts as a registered customer.
func (a *Actor) IsCustomer() bool { return a.ClientID > 0 }

// IsStaff reports whether the actor acts as an authenticated employee.
func (a *Actor) IsStaff() bool { return a.EmployeeID > 0 }
