package records

// Field names a semantic column recognised by the extractor.
type Field string

// Fields the extractor can populate on a RawRecord.
const (
	FieldDocketNumber Field = "docket_number"
	FieldLENumber     Field = "le_number"
	FieldCaseNumber   Field = "case_number"
	FieldName         Field = "name"
	FieldAge          Field = "age"
	FieldSex          Field = "sex"
	FieldRace         Field = "race"
	FieldHeight       Field = "height"
	FieldWeight       Field = "weight"
	FieldHairColor    Field = "hair_color"
	FieldEyeColor     Field = "eye_color"
	FieldBookingDate  Field = "booking_date"
	FieldReleaseDate  Field = "release_date"
	FieldBond         Field = "bond"
	FieldFees         Field = "fees"
	FieldBondStatus   Field = "bond_status"
	FieldAgency       Field = "arresting_agency"
	FieldCharges      Field = "charges"
	FieldOffense      Field = "offense"
	FieldFilingDate   Field = "filing_date"
	FieldJudge        Field = "judge"
	FieldCourt        Field = "court"
	FieldDisposition  Field = "disposition"
	FieldSentence     Field = "sentence"
	FieldCaseStatus   Field = "case_status"
	FieldDetailLink   Field = "detail_link"
)

// RawRecord is one extracted row before validation: raw cell text keyed by field.
type RawRecord struct {
	Layout    string
	SourceURL string
	Fields    map[Field]string
	Charges   []RawCharge
}

// RawCharge is one charge cell, optionally tagged with the docket it was booked under.
type RawCharge struct {
	Description  string
	DocketNumber string
}

// Get returns the raw text for f, or "" when absent.
func (r RawRecord) Get(f Field) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[f]
}

// Set stores v under f, allocating the map on first use.
func (r *RawRecord) Set(f Field, v string) {
	if r.Fields == nil {
		r.Fields = make(map[Field]string)
	}
	r.Fields[f] = v
}
