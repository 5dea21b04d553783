package processor

import (
	"context"
	"fmt"

	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/logger"
	"github.com/mafutapass/receipts/internal/ocr"
	"github.com/mafutapass/receipts/internal/template"
)

// EnhanceHandler returns the job handler for background receipt enhancement.
// It re-reads the archived record, runs the full model pass with the original
// image, and writes the outcome back field by field: only the AI payload on
// the record and only the category on the expense item, so concurrent writers
// of other columns are never clobbered.
func (p *Processor) EnhanceHandler() jobs.JobHandler {
	return func(ctx context.Context, j jobs.Job) error {
		job, ok := j.(*jobs.EnhanceReceiptJob)
		if !ok {
			return fmt.Errorf("processor: unexpected job type %s", j.GetType())
		}
		return p.enhanceReceipt(ctx, job)
	}
}

func (p *Processor) enhanceReceipt(ctx context.Context, job *jobs.EnhanceReceiptJob) error {
	log := logger.Component(ctx, "processor")

	rec, err := p.receipts.GetByID(ctx, job.ReceiptID)
	if err != nil {
		return fmt.Errorf("processor: loading record %s: %w", job.ReceiptID, err)
	}
	if rec == nil {
		return fmt.Errorf("processor: record %s not found", job.ReceiptID)
	}

	input := enhance.Input{
		Text:        rec.OCRText,
		CaptureTime: rec.CapturedAt,
	}
	if rec.OCRText != "" {
		parsed := ocr.ParseReceiptText(rec.OCRText)
		input.MerchantName = parsed.MerchantName
		input.TotalAmount = parsed.TotalAmount
		input.Litres = parsed.Litres
		input.FuelType = template.NormalizeFuelType(parsed.FuelType)
		input.PricePerLitre = parsed.PricePerLitre
	}
	if name, ok := rec.CodeFields["merchantName"]; ok && input.MerchantName == "" {
		input.MerchantName = name
	}
	if v := rec.VerifierFields; v != nil {
		input.VerifiedMerchant = v["merchantName"]
		input.VerifiedDate = v["invoiceDate"]
	}

	if image, fetchErr := p.objects.Fetch(ctx, rec.ImageURL); fetchErr != nil {
		log.Warn().Err(fetchErr).Str("receipt_id", rec.ID).Msg("image fetch failed, enhancing from text only")
	} else {
		input.ImageBytes = image
	}

	enhancement := p.enhancer.Enhance(ctx, input)
	if enhancement == nil {
		return fmt.Errorf("processor: enhancement produced nothing for %s", rec.ID)
	}

	if err := p.receipts.UpdateAIPayload(ctx, rec.ID, enhancement); err != nil {
		return fmt.Errorf("processor: saving enhancement for %s: %w", rec.ID, err)
	}

	if job.ItemID != "" && p.reports != nil {
		if err := p.reports.ApplyCategory(ctx, job.ItemID, enhancement.Category); err != nil {
			return fmt.Errorf("processor: applying category to item %s: %w", job.ItemID, err)
		}
		if job.ReportID != "" {
			if _, err := p.reports.RecomputeTotal(ctx, job.ReportID); err != nil {
				return fmt.Errorf("processor: recomputing report %s: %w", job.ReportID, err)
			}
		}
	}

	log.Info().
		Str("receipt_id", rec.ID).
		Str("category", enhancement.Category).
		Int("confidence", enhancement.Confidence).
		Msg("background enhancement applied")
	return nil
}
