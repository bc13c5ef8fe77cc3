// Package omop names the slice of the OMOP Common Data Model the worker
// reads and resolves concept domains from the live vocabulary.
package omop

// Core table names.
const (
	TableConcept             = "concept"
	TablePerson              = "person"
	TableConditionOccurrence = "condition_occurrence"
	TableDrugExposure        = "drug_exposure"
	TableMeasurement         = "measurement"
	TableObservation         = "observation"
	TableProcedureOccurrence = "procedure_occurrence"
)

// Person table columns used by person constraints.
const (
	ColumnPersonID           = "person_id"
	ColumnYearOfBirth        = "year_of_birth"
	ColumnGenderConceptID    = "gender_concept_id"
	ColumnRaceConceptID      = "race_concept_id"
	ColumnEthnicityConceptID = "ethnicity_concept_id"
)

// Domain ids as they appear in concept.domain_id.
const (
	DomainGender      = "Gender"
	DomainRace        = "Race"
	DomainEthnicity   = "Ethnicity"
	DomainCondition   = "Condition"
	DomainDrug        = "Drug"
	DomainMeasurement = "Measurement"
	DomainObservation = "Observation"
	DomainProcedure   = "Procedure"
)

// Gender concept ids used by the demographics distribution.
const (
	ConceptMale   = 8507
	ConceptFemale = 8532
)

// EventTable describes one of the four clinical event tables a non-person
// rule unions over.
type EventTable struct {
	Name          string
	ConceptColumn string
	DateColumn    string
	// ValueAsNumber is true where numeric-range rules apply.
	ValueAsNumber bool
	// TypeConceptColumn is set where secondary modifiers apply.
	TypeConceptColumn string
}

// EventTables lists the four clinical tables in union order.
var EventTables = []EventTable{
	{
		Name:              TableConditionOccurrence,
		ConceptColumn:     "condition_concept_id",
		DateColumn:        "condition_start_date",
		TypeConceptColumn: "condition_type_concept_id",
	},
	{
		Name:          TableDrugExposure,
		ConceptColumn: "drug_concept_id",
		DateColumn:    "drug_exposure_start_date",
	},
	{
		Name:          TableMeasurement,
		ConceptColumn: "measurement_concept_id",
		DateColumn:    "measurement_date",
		ValueAsNumber: true,
	},
	{
		Name:          TableObservation,
		ConceptColumn: "observation_concept_id",
		DateColumn:    "observation_date",
		ValueAsNumber: true,
	},
}

// DomainTable maps a concept domain onto the table and concept column the
// code distribution counts over.
type DomainTable struct {
	Domain        string
	Table         string
	ConceptColumn string
}

// DistributionDomains lists the eight domains of the code distribution in
// output order.
var DistributionDomains = []DomainTable{
	{DomainCondition, TableConditionOccurrence, "condition_concept_id"},
	{DomainEthnicity, TablePerson, ColumnEthnicityConceptID},
	{DomainDrug, TableDrugExposure, "drug_concept_id"},
	{DomainGender, TablePerson, ColumnGenderConceptID},
	{DomainRace, TablePerson, ColumnRaceConceptID},
	{DomainMeasurement, TableMeasurement, "measurement_concept_id"},
	{DomainObservation, TableObservation, "observation_concept_id"},
	{DomainProcedure, TableProcedureOccurrence, "procedure_concept_id"},
}
