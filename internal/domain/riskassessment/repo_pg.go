package riskassessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mednexus/mednexus/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository { return &resultRepoPG{pool: pool} }

const resultCols = `id, patient_id, diabetes_risk, hypertension_risk, heart_disease_risk,
	diabetes_diagnosis, hypertension_diagnosis, heart_disease_diagnosis,
	source, payload, summary, created_at`

func (r *resultRepoPG) scanResult(row pgx.Row) (*Result, error) {
	var res Result
	var payload []byte
	var summary *string
	err := row.Scan(&res.ID, &res.PatientID, &res.DiabetesRisk, &res.HypertensionRisk, &res.HeartDiseaseRisk,
		&res.DiabetesDiagnosis, &res.HypertensionDiagnosis, &res.HeartDiseaseDiagnosis,
		&res.Source, &payload, &summary, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &res.Payload); err != nil {
			return nil, fmt.Errorf("decode result payload: %w", err)
		}
	}
	if summary != nil {
		res.Summary = *summary
	}
	return &res, nil
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Errorf("encode result payload: %w", err)
	}
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO risk_result (id, patient_id, diabetes_risk, hypertension_risk, heart_disease_risk,
			diabetes_diagnosis, hypertension_diagnosis, heart_disease_diagnosis,
			source, payload, summary, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		res.ID, res.PatientID, res.DiabetesRisk, res.HypertensionRisk, res.HeartDiseaseRisk,
		res.DiabetesDiagnosis, res.HypertensionDiagnosis, res.HeartDiseaseDiagnosis,
		res.Source, payload, res.Summary, res.CreatedAt).Scan(&res.CreatedAt)
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	return r.scanResult(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+resultCols+` FROM risk_result WHERE id = $1`, id))
}

func (r *resultRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Result, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM risk_result WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+resultCols+` FROM risk_result WHERE patient_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*Result{}
	for rows.Next() {
		res, err := r.scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}

func (r *resultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM risk_result WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrResultNotFound
	}
	return nil
}

// =========== Snapshot Repository ===========

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository { return &snapshotRepoPG{pool: pool} }

func (r *snapshotRepoPG) Load(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	q := conn(ctx, r.pool)
	s := &Snapshot{
		PatientID: patientID,
		Profile:   &PatientProfile{},
		Knowledge: &ClinicalKnowledge{},
		Vitals:    &CardiacVitals{},
	}

	var gender *string
	err := q.QueryRow(ctx, `SELECT age, gender FROM patient WHERE id = $1`, patientID).
		Scan(&s.Profile.Age, &gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if gender != nil {
		s.Profile.Gender = *gender
	}

	k := s.Knowledge
	err = q.QueryRow(ctx, `SELECT glucose, bmi, hba1c, total_cholesterol, diabetes, heart_disease,
			smoking, prevalent_hypertension, prevalent_stroke, cigarettes_per_day
		FROM patient_knowledge WHERE patient_id = $1`, patientID).
		Scan(&k.Glucose, &k.BMI, &k.HbA1c, &k.TotalCholesterol, &k.Diabetes, &k.HeartDisease,
			&k.Smoking, &k.PrevalentHypertension, &k.PrevalentStroke, &k.CigarettesPerDay)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load patient knowledge: %w", err)
	}

	v := s.Vitals
	var chestPain, restingECG, slope *string
	err = q.QueryRow(ctx, `SELECT bp_meds, diastolic_bp, systolic_bp, heart_rate,
			chest_pain, resting_ecg, exercise_slope
		FROM patient_heart_disease WHERE patient_id = $1`, patientID).
		Scan(&v.BPMeds, &v.DiastolicBP, &v.SystolicBP, &v.HeartRate, &chestPain, &restingECG, &slope)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load patient heart disease: %w", err)
	}
	v.ChestPain, v.RestingECG, v.ExerciseSlope = deref(chestPain), deref(restingECG), deref(slope)

	rows, err := q.Query(ctx, `SELECT image_path, disease_tag FROM patient_image
		WHERE patient_id = $1 ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var img MedicalImage
		var tag *string
		if err := rows.Scan(&img.ImagePath, &tag); err != nil {
			return nil, fmt.Errorf("scan patient image: %w", err)
		}
		img.DiseaseTag = deref(tag)
		s.Images = append(s.Images, img)
	}
	return s, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
