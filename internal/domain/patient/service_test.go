package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	patients  map[uuid.UUID]*Patient
	knowledge map[uuid.UUID]*Knowledge
	vitals    map[uuid.UUID]*HeartVitals
	images    map[uuid.UUID][]*Image
	imageErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:  make(map[uuid.UUID]*Patient),
		knowledge: make(map[uuid.UUID]*Knowledge),
		vitals:    make(map[uuid.UUID]*HeartVitals),
		images:    make(map[uuid.UUID][]*Image),
	}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.patients {
		if other.NationalID == p.NationalID {
			return ErrDuplicateNationalID
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	for id, other := range m.patients {
		if id != p.ID && other.NationalID == p.NationalID {
			return ErrDuplicateNationalID
		}
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	delete(m.knowledge, id)
	delete(m.vitals, id)
	delete(m.images, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NationalID < out[j].NationalID })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) UpsertKnowledge(_ context.Context, k *Knowledge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[k.PatientID]; !ok {
		return ErrNotFound
	}
	if prev, ok := m.knowledge[k.PatientID]; ok {
		k.ID, k.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		k.ID, k.CreatedAt = uuid.New(), time.Now()
	}
	m.knowledge[k.PatientID] = k
	return nil
}

func (m *mockRepo) GetKnowledge(_ context.Context, patientID uuid.UUID) (*Knowledge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.knowledge[patientID], nil
}

func (m *mockRepo) UpsertVitals(_ context.Context, v *HeartVitals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[v.PatientID]; !ok {
		return ErrNotFound
	}
	if prev, ok := m.vitals[v.PatientID]; ok {
		v.ID, v.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		v.ID, v.CreatedAt = uuid.New(), time.Now()
	}
	m.vitals[v.PatientID] = v
	return nil
}

func (m *mockRepo) GetVitals(_ context.Context, patientID uuid.UUID) (*HeartVitals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vitals[patientID], nil
}

func (m *mockRepo) AddImage(_ context.Context, img *Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imageErr != nil {
		return m.imageErr
	}
	if _, ok := m.patients[img.PatientID]; !ok {
		return ErrNotFound
	}
	img.ID, img.CreatedAt = uuid.New(), time.Now()
	m.images[img.PatientID] = append(m.images[img.PatientID], img)
	return nil
}

func (m *mockRepo) ListImages(_ context.Context, patientID uuid.UUID) ([]*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Image(nil), m.images[patientID]...), nil
}

func (m *mockRepo) RemoveImage(_ context.Context, patientID, imageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imgs := m.images[patientID]
	for i, img := range imgs {
		if img.ID == imageID {
			m.images[patientID] = append(imgs[:i], imgs[i+1:]...)
			return nil
		}
	}
	return ErrImageNotFound
}

// rootResolver accepts locators under /static/ only.
type rootResolver struct{}

func (rootResolver) Resolve(locator string) (string, error) {
	if !strings.HasPrefix(locator, "/static/") || strings.Contains(locator, "..") {
		return "", errors.New("outside storage root")
	}
	return "/srv" + locator, nil
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, WithLocatorResolver(rootResolver{})), repo
}

func samplePatient() Patient {
	return Patient{NationalID: "12345678901", FullName: " Ayse Demir ", Age: intPtr(52), Gender: strPtr(" Female ")}
}

func TestCreatePatient_Normalizes(t *testing.T) {
	svc, repo := newTestService()
	p := samplePatient()
	if err := svc.CreatePatient(context.Background(), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.patients[p.ID]
	if stored.FullName != "Ayse Demir" {
		t.Errorf("expected trimmed name, got %q", stored.FullName)
	}
	if stored.Gender == nil || *stored.Gender != "female" {
		t.Errorf("expected lowercased gender, got %v", stored.Gender)
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Patient)
		field string
	}{
		{"missing name", func(p *Patient) { p.FullName = "  " }, "full_name"},
		{"long name", func(p *Patient) { p.FullName = strings.Repeat("a", maxFullName+1) }, "full_name"},
		{"missing national id", func(p *Patient) { p.NationalID = "" }, "national_id"},
		{"long national id", func(p *Patient) { p.NationalID = "123456789012" }, "national_id"},
		{"negative age", func(p *Patient) { p.Age = intPtr(-1) }, "age"},
		{"long gender", func(p *Patient) { p.Gender = strPtr("nonbinaryxx") }, "gender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			p := samplePatient()
			tt.edit(&p)
			err := svc.CreatePatient(context.Background(), &p)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected ValidationError on %s, got %v", tt.field, err)
			}
			if len(repo.patients) != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestCreatePatient_DuplicateNationalID(t *testing.T) {
	svc, _ := newTestService()
	first, second := samplePatient(), samplePatient()
	if err := svc.CreatePatient(context.Background(), &first); err != nil {
		t.Fatal(err)
	}
	if err := svc.CreatePatient(context.Background(), &second); !errors.Is(err, ErrDuplicateNationalID) {
		t.Errorf("expected ErrDuplicateNationalID, got %v", err)
	}
}

func TestAdmit_StoresEveryRow(t *testing.T) {
	repo := newMockRepo()
	txCalls := 0
	svc := NewService(repo, WithLocatorResolver(rootResolver{}), WithTx(func(ctx context.Context, fn func(context.Context) error) error {
		txCalls++
		return fn(ctx)
	}))

	in := &Intake{
		Patient:   samplePatient(),
		Knowledge: &Knowledge{Glucose: floatPtr(140), HbA1c: floatPtr(6.4), Smoking: boolPtr(true)},
		Vitals:    &HeartVitals{SystolicBP: intPtr(138), ChestPain: strPtr(" typical ")},
		Images: []*Image{
			{ImagePath: "/static/fundus.png", DiseaseTag: strPtr("Hypertension")},
			{ImagePath: "/static/foot.png"},
		},
	}
	rec, err := svc.Admit(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txCalls != 1 {
		t.Errorf("expected one transaction, got %d", txCalls)
	}
	id := rec.Patient.ID
	if id == uuid.Nil || repo.patients[id] == nil {
		t.Fatal("expected the patient to be stored")
	}
	if k := repo.knowledge[id]; k == nil || *k.Glucose != 140 {
		t.Errorf("expected stored knowledge, got %+v", k)
	}
	if v := repo.vitals[id]; v == nil || *v.ChestPain != "typical" {
		t.Errorf("expected stored vitals with trimmed chest pain, got %+v", v)
	}
	imgs := repo.images[id]
	if len(imgs) != 2 || *imgs[0].DiseaseTag != "hypertension" || imgs[1].DiseaseTag != nil {
		t.Errorf("unexpected images %+v", imgs)
	}
	if len(rec.Images) != 2 || rec.Knowledge == nil || rec.Vitals == nil {
		t.Errorf("record is missing rows: %+v", rec)
	}
}

func TestAdmit_RejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name  string
		in    *Intake
		field string
	}{
		{"negative glucose", &Intake{Patient: samplePatient(), Knowledge: &Knowledge{Glucose: floatPtr(-1)}}, "glucose"},
		{"negative cigarettes", &Intake{Patient: samplePatient(), Knowledge: &Knowledge{CigarettesPerDay: intPtr(-3)}}, "cigarettes_per_day"},
		{"negative heart rate", &Intake{Patient: samplePatient(), Vitals: &HeartVitals{HeartRate: intPtr(-60)}}, "heart_rate"},
		{"long chest pain", &Intake{Patient: samplePatient(), Vitals: &HeartVitals{ChestPain: strPtr(strings.Repeat("x", 21))}}, "chest_pain"},
		{"escaping image", &Intake{Patient: samplePatient(), Images: []*Image{{ImagePath: "/static/../etc/passwd"}}}, "image_path"},
		{"empty image path", &Intake{Patient: samplePatient(), Images: []*Image{{ImagePath: " "}}}, "image_path"},
		{"nil image", &Intake{Patient: samplePatient(), Images: []*Image{nil}}, "images[0]"},
		{"long tag", &Intake{Patient: samplePatient(), Images: []*Image{{ImagePath: "/static/a.png", DiseaseTag: strPtr(strings.Repeat("t", 51))}}}, "disease_tag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			_, err := svc.Admit(context.Background(), tt.in)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected ValidationError on %s, got %v", tt.field, err)
			}
			if len(repo.patients) != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestAdmit_PropagatesWriteFailure(t *testing.T) {
	svc, repo := newTestService()
	repo.imageErr = errors.New("disk full")
	in := &Intake{Patient: samplePatient(), Images: []*Image{{ImagePath: "/static/a.png"}}}
	if _, err := svc.Admit(context.Background(), in); err == nil || !strings.Contains(err.Error(), "store image") {
		t.Errorf("expected a wrapped image error, got %v", err)
	}
}

func TestGetRecord(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := samplePatient()
	if err := svc.CreatePatient(ctx, &p); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.GetRecord(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Knowledge != nil || rec.Vitals != nil {
		t.Errorf("expected no clinical rows yet, got %+v", rec)
	}
	if rec.Images == nil || len(rec.Images) != 0 {
		t.Errorf("expected an empty image list, got %v", rec.Images)
	}

	if err := svc.PutKnowledge(ctx, &Knowledge{PatientID: p.ID, BMI: floatPtr(29.1)}); err != nil {
		t.Fatal(err)
	}
	rec, err = svc.GetRecord(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Knowledge == nil || *rec.Knowledge.BMI != 29.1 {
		t.Errorf("expected stored knowledge, got %+v", rec.Knowledge)
	}

	if _, err := svc.GetRecord(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePatient_Partial(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := samplePatient()
	if err := svc.CreatePatient(ctx, &p); err != nil {
		t.Fatal(err)
	}

	got, err := svc.UpdatePatient(ctx, p.ID, &PatientUpdate{Age: intPtr(53), Gender: strPtr("MALE")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got.Age != 53 || *got.Gender != "male" || got.FullName != "Ayse Demir" || got.NationalID != "12345678901" {
		t.Errorf("unexpected patient %+v", got)
	}
	if *repo.patients[p.ID].Age != 53 {
		t.Error("expected the update to be stored")
	}

	if _, err := svc.UpdatePatient(ctx, p.ID, &PatientUpdate{FullName: strPtr("")}); err == nil {
		t.Error("expected an error for a blank name")
	}
	if *repo.patients[p.ID].Age != 53 || repo.patients[p.ID].FullName != "Ayse Demir" {
		t.Error("a rejected update must not change the stored row")
	}
	if _, err := svc.UpdatePatient(ctx, uuid.New(), &PatientUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutKnowledge_Replaces(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := samplePatient()
	if err := svc.CreatePatient(ctx, &p); err != nil {
		t.Fatal(err)
	}

	first := &Knowledge{PatientID: p.ID, Glucose: floatPtr(110), Smoking: boolPtr(true)}
	if err := svc.PutKnowledge(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Knowledge{PatientID: p.ID, Glucose: floatPtr(150)}
	if err := svc.PutKnowledge(ctx, second); err != nil {
		t.Fatal(err)
	}
	stored := repo.knowledge[p.ID]
	if stored.ID != first.ID {
		t.Error("expected the row to be replaced in place")
	}
	if *stored.Glucose != 150 || stored.Smoking != nil {
		t.Errorf("expected full replacement, got %+v", stored)
	}

	if err := svc.PutKnowledge(ctx, &Knowledge{PatientID: uuid.New()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown patient, got %v", err)
	}
	if err := svc.PutKnowledge(ctx, &Knowledge{}); err == nil {
		t.Error("expected error without patient id")
	}
}

func TestPutVitals(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := samplePatient()
	if err := svc.CreatePatient(ctx, &p); err != nil {
		t.Fatal(err)
	}
	v := &HeartVitals{PatientID: p.ID, DiastolicBP: intPtr(88), RestingECG: strPtr("  "), ExerciseSlope: strPtr("Flat")}
	if err := svc.PutVitals(ctx, v); err != nil {
		t.Fatal(err)
	}
	stored := repo.vitals[p.ID]
	if stored.RestingECG != nil {
		t.Errorf("expected blank resting ecg to be dropped, got %q", *stored.RestingECG)
	}
	if *stored.ExerciseSlope != "Flat" {
		t.Errorf("expected exercise slope kept as entered, got %q", *stored.ExerciseSlope)
	}
}

func TestImages(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := samplePatient()
	if err := svc.CreatePatient(ctx, &p); err != nil {
		t.Fatal(err)
	}

	img := &Image{PatientID: p.ID, ImagePath: "/static/fundus.png", DiseaseTag: strPtr("hypertension")}
	if err := svc.AddImage(ctx, img); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddImage(ctx, &Image{PatientID: uuid.New(), ImagePath: "/static/x.png"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown patient, got %v", err)
	}

	imgs, err := svc.ListImages(ctx, p.ID)
	if err != nil || len(imgs) != 1 {
		t.Fatalf("expected one image, got %v (%v)", imgs, err)
	}
	if _, err := svc.ListImages(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound listing an unknown patient, got %v", err)
	}

	if err := svc.RemoveImage(ctx, p.ID, img.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveImage(ctx, p.ID, img.ID); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("expected ErrImageNotFound, got %v", err)
	}
}

func TestDeletePatient(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	rec, err := svc.Admit(ctx, &Intake{Patient: samplePatient(), Knowledge: &Knowledge{BMI: floatPtr(24)}})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.DeletePatient(ctx, rec.Patient.ID); err != nil {
		t.Fatal(err)
	}
	if len(repo.patients) != 0 || len(repo.knowledge) != 0 {
		t.Error("expected patient and knowledge to be removed")
	}
	if err := svc.DeletePatient(ctx, rec.Patient.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
