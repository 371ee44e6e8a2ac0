package models

// Patient represents one patient profile on the dashboard.
// Wire names are the camelCase fields the dashboard UI binds to.
type Patient struct {
	ID               string   `json:"id"`
	MRN              string   `json:"mrn"`
	Name             string   `json:"name"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	DOB              string   `json:"dob"`
	BloodType        string   `json:"bloodType"`
	Allergies        []string `json:"allergies"`
	Conditions       []string `json:"conditions"`
	LastVisit        string   `json:"lastVisit"`
	NextAppointment  string   `json:"nextAppointment"`
	PrimaryPhysician string   `json:"primaryPhysician"`
}

// PatientCreateRequest is the POST /patients body. ID is optional; when
// empty the store assigns the next sequential "P%03d" identifier. Age is a
// pointer so a missing field is distinguishable from age 0.
type PatientCreateRequest struct {
	ID               string   `json:"id,omitempty"`
	MRN              string   `json:"mrn"`
	Name             string   `json:"name"`
	Age              *int     `json:"age"`
	Gender           string   `json:"gender"`
	DOB              string   `json:"dob"`
	BloodType        string   `json:"bloodType,omitempty"`
	Allergies        []string `json:"allergies,omitempty"`
	Conditions       []string `json:"conditions,omitempty"`
	LastVisit        string   `json:"lastVisit,omitempty"`
	NextAppointment  string   `json:"nextAppointment,omitempty"`
	PrimaryPhysician string   `json:"primaryPhysician,omitempty"`
}

// MissingFields returns the required demographic fields absent from the request.
func (r *PatientCreateRequest) MissingFields() []string {
	var missing []string
	if r.MRN == "" {
		missing = append(missing, "mrn")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Age == nil {
		missing = append(missing, "age")
	}
	if r.Gender == "" {
		missing = append(missing, "gender")
	}
	if r.DOB == "" {
		missing = append(missing, "dob")
	}
	return missing
}

// RecordEntry is one row inside a record bucket. Text entries carry Text;
// imaging entries carry Filename and Type instead.
type RecordEntry struct {
	CapturedAt string `json:"captured_at"`
	Source     string `json:"source"`
	Text       string `json:"text,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Type       string `json:"type,omitempty"`
}

// RecordBuckets groups a patient's accumulated clinical records.
// All four slices are always present on the wire, empty when unused.
type RecordBuckets struct {
	History       []RecordEntry `json:"history"`
	Labs          []RecordEntry `json:"labs"`
	Imaging       []RecordEntry `json:"imaging"`
	Prescriptions []RecordEntry `json:"prescriptions"`
}

// EmptyRecordBuckets returns a bucket set with non-nil, zero-length slices
// so first-load reads serialize as [] rather than null.
func EmptyRecordBuckets() *RecordBuckets {
	return &RecordBuckets{
		History:       []RecordEntry{},
		Labs:          []RecordEntry{},
		Imaging:       []RecordEntry{},
		Prescriptions: []RecordEntry{},
	}
}
