package patient

import (
	"context"
	"errors"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// pgError maps constraint violations onto the package errors.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == "patient_national_id_key" {
			return ErrDuplicateNationalID
		}
	case "23503":
		return ErrNotFound
	}
	return err
}

// -- Patient --

const patientCols = `id, national_id, full_name, complaint, age, gender, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var nationalID *string
	err := row.Scan(&p.ID, &nationalID, &p.FullName, &p.Complaint, &p.Age, &p.Gender, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if nationalID != nil {
		p.NationalID = *nationalID
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, national_id, full_name, complaint, age, gender)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.NationalID, p.FullName, p.Complaint, p.Age, p.Gender,
	).Scan(&p.CreatedAt)
	return pgError(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET national_id=$2, full_name=$3, complaint=$4, age=$5, gender=$6
		WHERE id = $1`,
		p.ID, p.NationalID, p.FullName, p.Complaint, p.Age, p.Gender,
	)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the patient; clinical rows and results cascade.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Knowledge --

func (r *repoPG) UpsertKnowledge(ctx context.Context, k *Knowledge) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_knowledge (id, patient_id, glucose, bmi, hba1c, total_cholesterol,
			diabetes, heart_disease, smoking, cigarettes_per_day, prevalent_hypertension, prevalent_stroke)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (patient_id) DO UPDATE SET
			glucose=EXCLUDED.glucose, bmi=EXCLUDED.bmi, hba1c=EXCLUDED.hba1c,
			total_cholesterol=EXCLUDED.total_cholesterol, diabetes=EXCLUDED.diabetes,
			heart_disease=EXCLUDED.heart_disease, smoking=EXCLUDED.smoking,
			cigarettes_per_day=EXCLUDED.cigarettes_per_day,
			prevalent_hypertension=EXCLUDED.prevalent_hypertension,
			prevalent_stroke=EXCLUDED.prevalent_stroke
		RETURNING id, created_at`,
		uuid.New(), k.PatientID, k.Glucose, k.BMI, k.HbA1c, k.TotalCholesterol,
		k.Diabetes, k.HeartDisease, k.Smoking, k.CigarettesPerDay, k.PrevalentHypertension, k.PrevalentStroke,
	).Scan(&k.ID, &k.CreatedAt)
	return pgError(err)
}

func (r *repoPG) GetKnowledge(ctx context.Context, patientID uuid.UUID) (*Knowledge, error) {
	var k Knowledge
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, glucose, bmi, hba1c, total_cholesterol, diabetes, heart_disease,
			smoking, cigarettes_per_day, prevalent_hypertension, prevalent_stroke, created_at
		FROM patient_knowledge WHERE patient_id = $1`, patientID).
		Scan(&k.ID, &k.PatientID, &k.Glucose, &k.BMI, &k.HbA1c, &k.TotalCholesterol, &k.Diabetes, &k.HeartDisease,
			&k.Smoking, &k.CigarettesPerDay, &k.PrevalentHypertension, &k.PrevalentStroke, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// -- Heart vitals --

func (r *repoPG) UpsertVitals(ctx context.Context, v *HeartVitals) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_heart_disease (id, patient_id, bp_meds, diastolic_bp, systolic_bp, heart_rate,
			chest_pain, resting_ecg, exercise_slope)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (patient_id) DO UPDATE SET
			bp_meds=EXCLUDED.bp_meds, diastolic_bp=EXCLUDED.diastolic_bp, systolic_bp=EXCLUDED.systolic_bp,
			heart_rate=EXCLUDED.heart_rate, chest_pain=EXCLUDED.chest_pain,
			resting_ecg=EXCLUDED.resting_ecg, exercise_slope=EXCLUDED.exercise_slope
		RETURNING id, created_at`,
		uuid.New(), v.PatientID, v.BPMeds, v.DiastolicBP, v.SystolicBP, v.HeartRate,
		v.ChestPain, v.RestingECG, v.ExerciseSlope,
	).Scan(&v.ID, &v.CreatedAt)
	return pgError(err)
}

func (r *repoPG) GetVitals(ctx context.Context, patientID uuid.UUID) (*HeartVitals, error) {
	var v HeartVitals
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, bp_meds, diastolic_bp, systolic_bp, heart_rate,
			chest_pain, resting_ecg, exercise_slope, created_at
		FROM patient_heart_disease WHERE patient_id = $1`, patientID).
		Scan(&v.ID, &v.PatientID, &v.BPMeds, &v.DiastolicBP, &v.SystolicBP, &v.HeartRate,
			&v.ChestPain, &v.RestingECG, &v.ExerciseSlope, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// -- Images --

func (r *repoPG) AddImage(ctx context.Context, img *Image) error {
	img.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_image (id, patient_id, image_path, disease_tag)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		img.ID, img.PatientID, img.ImagePath, img.DiseaseTag,
	).Scan(&img.CreatedAt)
	return pgError(err)
}

func (r *repoPG) ListImages(ctx context.Context, patientID uuid.UUID) ([]*Image, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, image_path, disease_tag, created_at
		FROM patient_image WHERE patient_id = $1 ORDER BY created_at, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []*Image{}
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.PatientID, &img.ImagePath, &img.DiseaseTag, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

func (r *repoPG) RemoveImage(ctx context.Context, patientID, imageID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_image WHERE id = $1 AND patient_id = $2`, imageID, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}
