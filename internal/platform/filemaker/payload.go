package filemaker

// Intake carries the normalized referral fields the target layout accepts.
// Callers populate it from their own record types; zero-value fields submit
// as empty strings, which the layout treats as blank.
type Intake struct {
	ClientFirstName string
	ClientLastName  string
	ClaimNumber     string
	ClientCompany   string
	DOB             string
	DOI             string
	ClientPhone     string
	ClientEmail     string
	Instructions    string
	InjuryDesc      string

	PatientFirstName string
	PatientLastName  string
	PatientPhone     string
	PatientEmail     string
	PatientEmployer  string
	PatientAddress1  string
	PatientAddress2  string
	PatientCity      string
	PatientState     string
	PatientZip       string
	PatientGender    string
	PatientSSN       string
	PatientJobTitle  string

	EmployerAddress1 string
	EmployerAddress2 string
	EmployerCity     string
	EmployerState    string
	EmployerZip      string
	EmployerEmail    string

	PhysicianName string
	PhysicianNPI  string

	JurisdictionState string
	OrderType         string

	ICD10Code        string
	ICD10Description string
	ICD10Category    string
	ProcedureCode    string

	SuggestedProviders  string
	SpecialRequirements string

	AdjusterName  string
	AdjusterEmail string
	AdjusterPhone string

	Status string
}

// FieldData renders the intake into the layout's flat field names. Status
// defaults to "Pending" for new intakes.
func (in Intake) FieldData() map[string]string {
	status := in.Status
	if status == "" {
		status = "Pending"
	}
	return map[string]string{
		"Intake Client First Name": in.ClientFirstName,
		"Intake Client Last Name":  in.ClientLastName,
		"Intake Claim Number":      in.ClaimNumber,
		"Intake Client Company":    in.ClientCompany,
		"Intake DOB":               in.DOB,
		"Intake DOI":               in.DOI,
		"Intake Client Phone":      in.ClientPhone,
		"Intake Client Email":      in.ClientEmail,
		"Intake Instructions":      in.Instructions,
		"Injury Description":       in.InjuryDesc,

		"Patient First Name":    in.PatientFirstName,
		"Patient Last Name":     in.PatientLastName,
		"Patient Phone":         in.PatientPhone,
		"Patient Email":         in.PatientEmail,
		"Patient Employer":      in.PatientEmployer,
		"Patient Address 1":     in.PatientAddress1,
		"Patient Address 2":     in.PatientAddress2,
		"Patient Address City":  in.PatientCity,
		"Patient Address State": in.PatientState,
		"Patient Address ZIP":   in.PatientZip,
		"Patient Gender":        in.PatientGender,
		"Patient SSN":           in.PatientSSN,
		"Patient Job Title":     in.PatientJobTitle,

		"Employer Address 1":     in.EmployerAddress1,
		"Employer Address 2":     in.EmployerAddress2,
		"Employer Address City":  in.EmployerCity,
		"Employer Address State": in.EmployerState,
		"Employer Address ZIP":   in.EmployerZip,
		"Employer Email":         in.EmployerEmail,

		"Referring Physician Name": in.PhysicianName,
		"Referring Physician NPI":  in.PhysicianNPI,

		"Jurisdiction State": in.JurisdictionState,
		"Order Type":         in.OrderType,

		"ICD10 Code":        in.ICD10Code,
		"ICD10 Description": in.ICD10Description,
		"ICD10 Category":    in.ICD10Category,
		"Procedure Code":    in.ProcedureCode,

		"Suggested Providers":  in.SuggestedProviders,
		"Special Requirements": in.SpecialRequirements,

		"Adjuster Name":  in.AdjusterName,
		"Adjuster Email": in.AdjusterEmail,
		"Adjuster Phone": in.AdjusterPhone,

		"Status": status,
	}
}
