package data

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/data/pgxutil"
	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/errors"
)

// InvoiceRepo persists committed invoice records. The invoice_number unique
// index is the duplicate guard; everything else builds on it.
type InvoiceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewInvoiceRepo creates a new InvoiceRepo instance.
func NewInvoiceRepo(db *sql.DB, cfg RepoConfig) *InvoiceRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &InvoiceRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// Commit inserts the invoice and its line items in one transaction. A unique
// violation on invoice_number is translated into a Duplicate error whose
// message distinguishes re-processing the same file from a genuine collision
// between different files. Repeat calls with the same key deterministically
// return the same duplicate outcome; at most one row ever exists per invoice
// number.
func (r *InvoiceRepo) Commit(ctx context.Context, p core.CommitInvoiceParams) (*model.InvoiceRecord, error) {
	if p.Fields.InvoiceNumber == "" {
		return nil, errors.ValidationField("invoice_number", "invoice_number is required to commit")
	}

	record := &model.InvoiceRecord{
		ID:            uuid.NewString(),
		InvoiceNumber: p.Fields.InvoiceNumber,
		InvoiceDate:   p.Fields.InvoiceDate,
		DueDate:       p.Fields.DueDate,
		VendorName:    p.Fields.VendorName,
		BillTo:        p.Fields.BillTo,
		Currency:      p.Fields.Currency,
		Subtotal:      p.Fields.Subtotal,
		TaxAmount:     p.Fields.TaxAmount,
		TotalAmount:   p.Fields.TotalAmount,
		SourceFile:    p.Filename,
		Confidence:    p.Confidence,
		CommittedBy:   p.OwnerID,
		LineItems:     p.Fields.LineItems,
		CreatedAt:     r.timeProvider.Now().UTC(),
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, execErr := tx.Exec(ctx, `
        INSERT INTO invoices(id, invoice_number, invoice_date, due_date, vendor_name, bill_to, currency, subtotal, tax_amount, total_amount, source_file, confidence, committed_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
      `,
				record.ID, record.InvoiceNumber, record.InvoiceDate, record.DueDate,
				record.VendorName, record.BillTo, record.Currency,
				record.Subtotal, record.TaxAmount, record.TotalAmount,
				record.SourceFile, record.Confidence, record.CommittedBy, record.CreatedAt,
			); execErr != nil {
				return execErr
			}

			for i, item := range record.LineItems {
				if _, execErr := tx.Exec(ctx, `
          INSERT INTO invoice_line_items(invoice_id, position, description, quantity, unit_price, amount)
          VALUES ($1,$2,$3,$4,$5,$6)
        `, record.ID, i, item.Description, item.Quantity, item.UnitPrice, item.Amount); execErr != nil {
					return fmt.Errorf("insert line item %d: %w", i, execErr)
				}
			}
			return nil
		},
	})
	if err == nil {
		return record, nil
	}

	if errors.IsUniqueViolation(err) {
		return nil, r.duplicateError(ctx, p.Fields.InvoiceNumber, p.Filename)
	}
	return nil, errors.Persistence(errors.MapDBError(err), "commit invoice record")
}

// duplicateError re-reads the existing row to pick the duplicate sub-case. If
// the re-read fails the generic collision message is used; the outcome is a
// duplicate either way.
func (r *InvoiceRepo) duplicateError(ctx context.Context, invoiceNumber, filename string) error {
	existing, err := r.GetByInvoiceNumber(ctx, invoiceNumber)
	if err != nil {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "re-read existing invoice after duplicate failed",
				"invoice_number", invoiceNumber,
				"error", err,
			)
		}
		return errors.Duplicatef(
			"Invoice #%s already exists in the system. Each invoice number must be unique.",
			invoiceNumber,
		)
	}

	if existing.SourceFile == filename {
		return errors.Duplicatef(
			"This file '%s' has already been processed. Invoice #%s exists in the system.",
			filename, invoiceNumber,
		)
	}
	return errors.Duplicatef(
		"Invoice #%s already exists in the system (from file '%s'). Each invoice number must be unique.",
		invoiceNumber, existing.SourceFile,
	)
}

const invoiceColumns = `
  id,
  invoice_number,
  invoice_date,
  due_date,
  vendor_name,
  bill_to,
  currency,
  subtotal,
  tax_amount,
  total_amount,
  source_file,
  confidence,
  committed_by,
  created_at
`

// GetByInvoiceNumber retrieves an invoice record by its natural key, line items
// included.
func (r *InvoiceRepo) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*model.InvoiceRecord, error) {
	return r.getOne(ctx, `WHERE invoice_number = $1`, invoiceNumber)
}

// GetByID retrieves an invoice record by its ID.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*model.InvoiceRecord, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *InvoiceRepo) getOne(ctx context.Context, where string, arg any) (*model.InvoiceRecord, error) {
	var record *model.InvoiceRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		row := pgxConn.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices `+where, arg)
		rec, serr := scanInvoiceFromRow(row)
		if serr != nil {
			return serr
		}

		rows, qerr := pgxConn.Query(ctx, `
			SELECT description, quantity, unit_price, amount
			FROM invoice_line_items
			WHERE invoice_id = $1
			ORDER BY position ASC
		`, rec.ID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var item model.InvoiceLineItem
			if serr := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice, &item.Amount); serr != nil {
				return serr
			}
			rec.LineItems = append(rec.LineItems, item)
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			return rowsErr
		}

		record = rec
		return nil
	})
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("invoice not found")
	}
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return record, nil
}

func scanInvoiceFromRow(scanner jobRowScanner) (*model.InvoiceRecord, error) {
	rec := &model.InvoiceRecord{}
	var invoiceDate, dueDate, vendorName, billTo, currency, committedBy sql.NullString
	if err := scanner.Scan(
		&rec.ID,
		&rec.InvoiceNumber,
		&invoiceDate,
		&dueDate,
		&vendorName,
		&billTo,
		&currency,
		&rec.Subtotal,
		&rec.TaxAmount,
		&rec.TotalAmount,
		&rec.SourceFile,
		&rec.Confidence,
		&committedBy,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.InvoiceDate = invoiceDate.String
	rec.DueDate = dueDate.String
	rec.VendorName = vendorName.String
	rec.BillTo = billTo.String
	rec.Currency = currency.String
	rec.CommittedBy = cloneNullableString(committedBy)
	return rec, nil
}
