package riskassessment

import (
	"fmt"
	"strings"
)

// Each disease model was trained on a fixed, ordered feature layout. The
// layouts are declared below as data and interpreted by one encoder; field
// order and names must not change unless the model is retrained with them.
//
// Every encoder reads the same canonical record, derived once per run, so
// gender and smoking status are classified identically for all diseases.
// Absent optional inputs read as 0 (numerics) or false (flags).

// Canonical numeric variables.
const (
	varAge                   = "age"
	varBMI                   = "bmi"
	varHbA1c                 = "hba1c"
	varGlucose               = "glucose"
	varTotalCholesterol      = "total_cholesterol"
	varCigarettesPerDay      = "cigarettes_per_day"
	varDiastolicBP           = "diastolic_bp"
	varSystolicBP            = "systolic_bp"
	varHeartRate             = "heart_rate"
	varBPMeds                = "bp_meds"
	varDiabetes              = "diabetes"
	varHeartDisease          = "heart_disease"
	varPrevalentHypertension = "prevalent_hypertension"
	varPrevalentStroke       = "prevalent_stroke"
)

var knownVars = map[string]bool{
	varAge: true, varBMI: true, varHbA1c: true, varGlucose: true,
	varTotalCholesterol: true, varCigarettesPerDay: true,
	varDiastolicBP: true, varSystolicBP: true, varHeartRate: true, varBPMeds: true,
	varDiabetes: true, varHeartDisease: true,
	varPrevalentHypertension: true, varPrevalentStroke: true,
}

// Canonical categorical variables.
const (
	catGender        = "gender"
	catSmoking       = "smoking_status"
	catChestPain     = "chest_pain"
	catRestingECG    = "resting_ecg"
	catExerciseSlope = "exercise_slope"
)

type vocabulary struct {
	values  []string
	aliases map[string]string
	// fallback receives out-of-vocabulary values. Without one they encode as
	// all zeros.
	fallback string
}

func (v vocabulary) lookup(normalized string) (string, bool) {
	if a, ok := v.aliases[normalized]; ok {
		normalized = a
	}
	for _, s := range v.values {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

func (v vocabulary) contains(value string) bool {
	_, ok := v.lookup(value)
	return ok
}

var vocabularies = map[string]vocabulary{
	catGender: {
		values:   []string{"female", "male", "unknown"},
		aliases:  map[string]string{"f": "female", "m": "male"},
		fallback: "unknown",
	},
	// Only "current" and "never" are ever derived; the other values exist
	// because the diabetes model was trained with those columns.
	catSmoking: {
		values: []string{"current", "ever", "former", "never", "not-current"},
	},
	catChestPain: {
		values: []string{"atypical", "non-anginal", "typical", "unknown"},
		aliases: map[string]string{
			"atypical-angina":  "atypical",
			"typical-angina":   "typical",
			"non-anginal-pain": "non-anginal",
		},
	},
	catRestingECG: {
		values: []string{"1", "2", "unknown", "lv-hypertrophy", "normal", "st-t-abnormality"},
	},
	catExerciseSlope: {
		values: []string{"1", "2", "3", "unknown", "downsloping", "flat", "upsloping"},
	},
}

// normalizeCategory lowercases and trims, and turns spaces and underscores
// into hyphens, so "LV Hypertrophy" and "lv_hypertrophy" match "lv-hypertrophy".
func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}

type fieldKind int

const (
	kindVar fieldKind = iota
	kindOneHot
	kindBin
	kindProduct
	kindLinear
)

func (k fieldKind) derived() bool { return k >= kindBin }

type term struct {
	field string
	coef  float64
}

type field struct {
	name     string
	kind     fieldKind
	source   string    // variable, category, or operand field
	value    string    // one-hot value
	edges    []float64 // kindBin, ascending
	operands []string  // kindProduct
	terms    []term    // kindLinear
}

func num(name, v string) field { return field{name: name, kind: kindVar, source: v} }

func oneHot(name, category, value string) field {
	return field{name: name, kind: kindOneHot, source: category, value: value}
}

// bin encodes the ordinal index of the lower-closed interval the operand
// falls in: below edges[0] is 0, [edges[0], edges[1]) is 1, and so on.
func bin(name, operand string, edges ...float64) field {
	return field{name: name, kind: kindBin, source: operand, edges: edges}
}

func product(name string, operands ...string) field {
	return field{name: name, kind: kindProduct, operands: operands}
}

func linear(name string, terms ...term) field { return field{name: name, kind: kindLinear, terms: terms} }

func coef(f string, c float64) term { return term{field: f, coef: c} }

type encodingSpec struct {
	disease    Disease
	fields     []field
	index      map[string]int
	derived    []int
	categories map[string]bool
}

// mustCompile validates a layout. Derived fields may reference any base
// field, or a derived field declared before them.
func mustCompile(d Disease, fields ...field) *encodingSpec {
	spec := &encodingSpec{
		disease:    d,
		fields:     fields,
		index:      make(map[string]int, len(fields)),
		categories: make(map[string]bool),
	}
	fail := func(format string, args ...interface{}) {
		panic(fmt.Sprintf("encoding %s: %s", d, fmt.Sprintf(format, args...)))
	}

	for i, f := range fields {
		if _, dup := spec.index[f.name]; dup {
			fail("duplicate field %q", f.name)
		}
		spec.index[f.name] = i
		switch f.kind {
		case kindVar:
			if !knownVars[f.source] {
				fail("field %q reads unknown variable %q", f.name, f.source)
			}
		case kindOneHot:
			voc, ok := vocabularies[f.source]
			if !ok {
				fail("field %q reads unknown category %q", f.name, f.source)
			}
			if !voc.contains(f.value) {
				fail("field %q: %q is not in the %s vocabulary", f.name, f.value, f.source)
			}
			spec.categories[f.source] = true
		}
	}

	ready := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !f.kind.derived() {
			ready[f.name] = true
		}
	}
	for i, f := range fields {
		if !f.kind.derived() {
			continue
		}
		var refs []string
		switch f.kind {
		case kindBin:
			refs = []string{f.source}
			for j := 1; j < len(f.edges); j++ {
				if f.edges[j] <= f.edges[j-1] {
					fail("field %q: bin edges must ascend", f.name)
				}
			}
		case kindProduct:
			refs = f.operands
		case kindLinear:
			for _, t := range f.terms {
				refs = append(refs, t.field)
			}
		}
		for _, r := range refs {
			if !ready[r] {
				fail("field %q references %q before it is available", f.name, r)
			}
		}
		ready[f.name] = true
		spec.derived = append(spec.derived, i)
	}
	return spec
}

var encodingSpecs = map[Disease]*encodingSpec{
	DiseaseDiabetes: mustCompile(DiseaseDiabetes,
		num("age", varAge),
		num("has_hypertension", varPrevalentHypertension),
		num("has_heart_disease", varHeartDisease),
		num("bmi", varBMI),
		num("hba1c", varHbA1c),
		num("glucose", varGlucose),
		oneHot("gender_female", catGender, "female"),
		oneHot("gender_male", catGender, "male"),
		oneHot("smoking_current", catSmoking, "current"),
		oneHot("smoking_ever", catSmoking, "ever"),
		oneHot("smoking_former", catSmoking, "former"),
		oneHot("smoking_never", catSmoking, "never"),
		oneHot("smoking_notcurrent", catSmoking, "not-current"),
	),

	DiseaseHypertension: mustCompile(DiseaseHypertension,
		oneHot("gender", catGender, "male"),
		num("age", varAge),
		// young, adult, mid, senior; the top bin is open-ended.
		bin("age_group", "age", 30, 45, 60),
		num("diabetes", varDiabetes),
		num("heart_disease", varHeartDisease),
		oneHot("smoking_history", catSmoking, "current"),
		num("bmi", varBMI),
		bin("bmi_category", "bmi", 18.5, 25, 30),
		product("glucose_hba1c", "blood_glucose_level", "HbA1c_level"),
		num("HbA1c_level", varHbA1c),
		num("blood_glucose_level", varGlucose),
		bin("glucose_category", "blood_glucose_level", 100, 200),
		product("age_bmi", "age", "bmi"),
		product("age_glucose", "age", "blood_glucose_level"),
		linear("cardiovascular_risk", coef("bmi", 0.25), coef("blood_glucose_level", 0.15)),
		linear("metabolic_risk", coef("bmi", 0.3), coef("glucose_hba1c", 0.4)),
		linear("diabetes_risk_score",
			coef("blood_glucose_level", 0.3), coef("glucose_hba1c", 0.5), coef("bmi", 0.2)),
	),

	DiseaseHeartDisease: mustCompile(DiseaseHeartDisease,
		num("age", varAge),
		num("bmi", varBMI),
		num("bp_meds", varBPMeds),
		num("cigarettes_per_day", varCigarettesPerDay),
		num("diastolic_bp", varDiastolicBP),
		num("glucose", varGlucose),
		num("heart_rate", varHeartRate),
		num("systolic_bp", varSystolicBP),
		num("total_cholesterol", varTotalCholesterol),
		oneHot("chest_pain_atypical", catChestPain, "atypical"),
		oneHot("chest_pain_non_anginal", catChestPain, "non-anginal"),
		oneHot("chest_pain_typical", catChestPain, "typical"),
		oneHot("chest_pain_unknown", catChestPain, "unknown"),
		oneHot("current_smoker", catSmoking, "current"),
		num("diabetes", varDiabetes),
		oneHot("resting_ecg_1", catRestingECG, "1"),
		oneHot("resting_ecg_2", catRestingECG, "2"),
		oneHot("resting_ecg_unknown", catRestingECG, "unknown"),
		oneHot("resting_ecg_lv_hypertrophy", catRestingECG, "lv-hypertrophy"),
		oneHot("resting_ecg_normal", catRestingECG, "normal"),
		oneHot("resting_ecg_st_t_abnormality", catRestingECG, "st-t-abnormality"),
		oneHot("exercise_slope_1", catExerciseSlope, "1"),
		oneHot("exercise_slope_2", catExerciseSlope, "2"),
		oneHot("exercise_slope_3", catExerciseSlope, "3"),
		oneHot("exercise_slope_unknown", catExerciseSlope, "unknown"),
		oneHot("exercise_slope_downsloping", catExerciseSlope, "downsloping"),
		oneHot("exercise_slope_flat", catExerciseSlope, "flat"),
		oneHot("exercise_slope_upsloping", catExerciseSlope, "upsloping"),
		num("prevalent_hypertension", varPrevalentHypertension),
		num("prevalent_stroke", varPrevalentStroke),
	),
}

// FeatureNames returns the ordered feature layout for d.
func FeatureNames(d Disease) []string {
	spec, ok := encodingSpecs[d]
	if !ok {
		return nil
	}
	out := make([]string, len(spec.fields))
	for i, f := range spec.fields {
		out[i] = f.name
	}
	return out
}

// FeatureWidth returns the vector length for d, or 0 for an unknown disease.
func FeatureWidth(d Disease) int {
	if spec, ok := encodingSpecs[d]; ok {
		return len(spec.fields)
	}
	return 0
}

// FeatureVector is an encoded model input.
type FeatureVector struct {
	Disease    Disease
	Names      []string
	Values     []float64
	Violations []*EncodingContractViolation
}

// record is the canonical, disease-independent view of one snapshot.
type record struct {
	nums       map[string]float64
	cats       map[string]string
	violations []*EncodingContractViolation
}

// Encode builds the feature vector for one disease.
func Encode(d Disease, profile *PatientProfile, knowledge *ClinicalKnowledge, vitals *CardiacVitals) (*FeatureVector, error) {
	rec, err := deriveRecord(profile, knowledge, vitals)
	if err != nil {
		return nil, err
	}
	return rec.encode(d)
}

func deriveRecord(profile *PatientProfile, knowledge *ClinicalKnowledge, vitals *CardiacVitals) (*record, error) {
	switch {
	case profile == nil:
		return nil, &IncompleteProfileError{Field: "profile", Reason: "is required"}
	case knowledge == nil:
		return nil, &IncompleteProfileError{Field: "knowledge", Reason: "is required"}
	case vitals == nil:
		return nil, &IncompleteProfileError{Field: "vitals", Reason: "is required"}
	case profile.Age == nil:
		return nil, &IncompleteProfileError{Field: "age", Reason: "is required"}
	case *profile.Age < 0:
		return nil, &IncompleteProfileError{Field: "age", Reason: fmt.Sprintf("must be >= 0, got %d", *profile.Age)}
	case strings.TrimSpace(profile.Gender) == "":
		return nil, &IncompleteProfileError{Field: "gender", Reason: "is required"}
	}

	rec := &record{
		nums: map[string]float64{
			varAge:                   float64(*profile.Age),
			varBMI:                   floatOrZero(knowledge.BMI),
			varHbA1c:                 floatOrZero(knowledge.HbA1c),
			varGlucose:               floatOrZero(knowledge.Glucose),
			varTotalCholesterol:      floatOrZero(knowledge.TotalCholesterol),
			varCigarettesPerDay:      intOrZero(knowledge.CigarettesPerDay),
			varDiabetes:              flag(knowledge.Diabetes),
			varHeartDisease:          flag(knowledge.HeartDisease),
			varPrevalentHypertension: flag(knowledge.PrevalentHypertension),
			varPrevalentStroke:       flag(knowledge.PrevalentStroke),
			varBPMeds:                flag(vitals.BPMeds),
			varDiastolicBP:           intOrZero(vitals.DiastolicBP),
			varSystolicBP:            intOrZero(vitals.SystolicBP),
			varHeartRate:             intOrZero(vitals.HeartRate),
		},
		cats: make(map[string]string, len(vocabularies)),
	}

	smoking := "never"
	if knowledge.Smoking != nil && *knowledge.Smoking {
		smoking = "current"
	}
	rec.cats[catSmoking] = smoking

	rec.setCategory(catGender, profile.Gender)
	rec.setCategory(catChestPain, vitals.ChestPain)
	rec.setCategory(catRestingECG, vitals.RestingECG)
	rec.setCategory(catExerciseSlope, vitals.ExerciseSlope)
	return rec, nil
}

// setCategory stores the vocabulary value for raw. An empty raw value is
// absent and encodes as all zeros. An unrecognised one goes to the
// vocabulary's fallback, or to all zeros, and is recorded as a violation.
func (r *record) setCategory(category, raw string) {
	n := normalizeCategory(raw)
	if n == "" {
		return
	}
	voc := vocabularies[category]
	if v, ok := voc.lookup(n); ok {
		r.cats[category] = v
		return
	}
	r.violations = append(r.violations, &EncodingContractViolation{Field: category, Value: raw})
	if voc.fallback != "" {
		r.cats[category] = voc.fallback
	}
}

func (r *record) encode(d Disease) (*FeatureVector, error) {
	spec, ok := encodingSpecs[d]
	if !ok {
		return nil, fmt.Errorf("no feature encoding for disease %q", d)
	}

	values := make([]float64, len(spec.fields))
	names := make([]string, len(spec.fields))
	for i, f := range spec.fields {
		names[i] = f.name
		switch f.kind {
		case kindVar:
			values[i] = r.nums[f.source]
		case kindOneHot:
			if r.cats[f.source] == f.value {
				values[i] = 1
			}
		}
	}

	at := func(name string) float64 { return values[spec.index[name]] }
	for _, i := range spec.derived {
		f := spec.fields[i]
		switch f.kind {
		case kindBin:
			v := at(f.source)
			idx := 0
			for _, edge := range f.edges {
				if v >= edge {
					idx++
				}
			}
			values[i] = float64(idx)
		case kindProduct:
			p := 1.0
			for _, op := range f.operands {
				p *= at(op)
			}
			values[i] = p
		case kindLinear:
			var s float64
			for _, t := range f.terms {
				s += t.coef * at(t.field)
			}
			values[i] = s
		}
	}

	fv := &FeatureVector{Disease: d, Names: names, Values: values}
	for _, v := range r.violations {
		if spec.categories[v.Field] {
			fv.Violations = append(fv.Violations, &EncodingContractViolation{Disease: d, Field: v.Field, Value: v.Value})
		}
	}
	return fv, nil
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func intOrZero(p *int) float64 {
	if p == nil {
		return 0
	}
	return float64(*p)
}

func flag(p *bool) float64 {
	if p != nil && *p {
		return 1
	}
	return 0
}
