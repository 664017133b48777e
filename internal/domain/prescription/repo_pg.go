package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telerx/telerx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prescriptionCols = `id, prescription_type, parent_prescription_id, status, payment_status,
	patient_first_name, patient_last_name, patient_email, patient_phone, patient_dob,
	patient_gender, patient_address, patient_city, patient_state, patient_zip,
	doctor_name, doctor_npi,
	medication, strength, quantity, days_supply, directions,
	medication_cents, consultation_cents, shipping_cents,
	pharmacy_id, payment_transaction_id, queue_id, tracking_number,
	refills, total_refills_to_date, refill_frequency_days, next_refill_date,
	created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PrescriptionType, &p.ParentPrescriptionID, &p.Status, &p.PaymentStatus,
		&p.PatientFirstName, &p.PatientLastName, &p.PatientEmail, &p.PatientPhone, &p.PatientDOB,
		&p.PatientGender, &p.PatientAddress, &p.PatientCity, &p.PatientState, &p.PatientZip,
		&p.DoctorName, &p.DoctorNPI,
		&p.Medication, &p.Strength, &p.Quantity, &p.DaysSupply, &p.Directions,
		&p.MedicationCents, &p.ConsultationCents, &p.ShippingCents,
		&p.PharmacyID, &p.PaymentTransactionID, &p.QueueID, &p.TrackingNumber,
		&p.Refills, &p.TotalRefillsToDate, &p.RefillFrequencyDays, &p.NextRefillDate,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescriptions (id, prescription_type, parent_prescription_id, status, payment_status,
			patient_first_name, patient_last_name, patient_email, patient_phone, patient_dob,
			patient_gender, patient_address, patient_city, patient_state, patient_zip,
			doctor_name, doctor_npi,
			medication, strength, quantity, days_supply, directions,
			medication_cents, consultation_cents, shipping_cents,
			pharmacy_id, payment_transaction_id, queue_id, tracking_number,
			refills, total_refills_to_date, refill_frequency_days, next_refill_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)`,
		p.ID, p.PrescriptionType, p.ParentPrescriptionID, p.Status, p.PaymentStatus,
		p.PatientFirstName, p.PatientLastName, p.PatientEmail, p.PatientPhone, p.PatientDOB,
		p.PatientGender, p.PatientAddress, p.PatientCity, p.PatientState, p.PatientZip,
		p.DoctorName, p.DoctorNPI,
		p.Medication, p.Strength, p.Quantity, p.DaysSupply, p.Directions,
		p.MedicationCents, p.ConsultationCents, p.ShippingCents,
		p.PharmacyID, p.PaymentTransactionID, p.QueueID, p.TrackingNumber,
		p.Refills, p.TotalRefillsToDate, p.RefillFrequencyDays, p.NextRefillDate)
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id)
	return scanPrescription(row)
}

func (r *prescriptionRepoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM prescriptions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		prescriptionCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) Update(ctx context.Context, p *Prescription) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions SET
			status = $2, payment_status = $3,
			patient_first_name = $4, patient_last_name = $5, patient_email = $6, patient_phone = $7,
			patient_dob = $8, patient_gender = $9, patient_address = $10, patient_city = $11,
			patient_state = $12, patient_zip = $13,
			doctor_name = $14, doctor_npi = $15,
			medication = $16, strength = $17, quantity = $18, days_supply = $19, directions = $20,
			medication_cents = $21, consultation_cents = $22, shipping_cents = $23,
			pharmacy_id = $24, payment_transaction_id = $25, queue_id = $26, tracking_number = $27,
			refills = $28, total_refills_to_date = $29, refill_frequency_days = $30,
			next_refill_date = $31, updated_at = now()
		WHERE id = $1`,
		p.ID, p.Status, p.PaymentStatus,
		p.PatientFirstName, p.PatientLastName, p.PatientEmail, p.PatientPhone,
		p.PatientDOB, p.PatientGender, p.PatientAddress, p.PatientCity,
		p.PatientState, p.PatientZip,
		p.DoctorName, p.DoctorNPI,
		p.Medication, p.Strength, p.Quantity, p.DaysSupply, p.Directions,
		p.MedicationCents, p.ConsultationCents, p.ShippingCents,
		p.PharmacyID, p.PaymentTransactionID, p.QueueID, p.TrackingNumber,
		p.Refills, p.TotalRefillsToDate, p.RefillFrequencyDays,
		p.NextRefillDate)
	return err
}

func (r *prescriptionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, tracking *string) error {
	if tracking != nil {
		_, err := r.conn(ctx).Exec(ctx,
			`UPDATE prescriptions SET status = $2, tracking_number = $3, updated_at = now() WHERE id = $1`,
			id, status, *tracking)
		return err
	}
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescriptions SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	return err
}

func (r *prescriptionRepoPG) RecordSubmission(ctx context.Context, id uuid.UUID, queueID string, status Status) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescriptions SET queue_id = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, queueID, status)
	return err
}

func (r *prescriptionRepoPG) RecordPayment(ctx context.Context, id uuid.UUID, txnID uuid.UUID, status Status, ps PaymentStatus) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions
		SET payment_transaction_id = $2, status = $3, payment_status = $4, updated_at = now()
		WHERE id = $1`,
		id, txnID, status, ps)
	return err
}

func (r *prescriptionRepoPG) ListDueRefills(ctx context.Context, now time.Time) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE prescription_type = $1 AND next_refill_date IS NOT NULL AND next_refill_date <= $2
		ORDER BY next_refill_date`,
		TypePrescription, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) ListSyncable(ctx context.Context) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE queue_id IS NOT NULL AND status NOT IN ($1, $2)
		ORDER BY created_at`,
		StatusDelivered, StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) ScheduleNextRefill(ctx context.Context, id uuid.UUID, next time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions
		SET total_refills_to_date = total_refills_to_date + 1, next_refill_date = $2, updated_at = now()
		WHERE id = $1`,
		id, next)
	return err
}
