package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/kra"
	"github.com/mafutapass/receipts/internal/logger"
	"github.com/mafutapass/receipts/internal/ocr"
	"github.com/mafutapass/receipts/internal/qrcode"
	"github.com/mafutapass/receipts/internal/stores"
	"github.com/mafutapass/receipts/internal/template"
)

// Process runs the full pipeline over one receipt image. It never returns an
// error: every failure mode, from a missing QR code to a dead OCR service,
// degrades into warnings, errors, and a status on the Result.
func (p *Processor) Process(ctx context.Context, image []byte, opts Options) *Result {
	log := logger.Component(ctx, "processor")

	res := &Result{
		ReceiptID: uuid.NewString(),
		Status:    archive.StatusProcessing,
		Warnings:  []string{},
		Errors:    []string{},
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("receipt_id", res.ReceiptID).Msg("pipeline panic")
			res.Errors = append(res.Errors, fmt.Sprintf("internal error: %v", r))
			res.Status = archive.StatusFailed
		}
	}()

	hashBytes := sha256.Sum256(image)
	contentHash := hex.EncodeToString(hashBytes[:])

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	pathHint := opts.Filename
	if pathHint == "" {
		pathHint = "receipt.jpg"
	}

	imageURL, err := p.objects.Upload(ctx, pathHint, image, contentType)
	if err != nil {
		log.Error().Err(err).Msg("image upload failed")
		res.Errors = append(res.Errors, "storing receipt image failed")
		res.Status = archive.StatusFailed
		return res
	}
	res.ImageURL = imageURL

	// Code decoding and OCR are independent reads of the same image.
	var (
		wg      sync.WaitGroup
		payload *qrcode.Payload
		ocrRes  *ocr.Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var decodeErr error
		payload, decodeErr = p.decoder.Decode(ctx, image)
		if decodeErr != nil {
			log.Warn().Err(decodeErr).Msg("code decode failed")
		}
	}()
	go func() {
		defer wg.Done()
		var ocrErr error
		ocrRes, ocrErr = p.ocr.Extract(ctx, image)
		if ocrErr != nil {
			log.Warn().Err(ocrErr).Msg("text extraction failed")
		}
	}()
	wg.Wait()

	if payload == nil {
		res.Warnings = append(res.Warnings, "no machine-readable code found")
	}
	if ocrRes == nil {
		res.Warnings = append(res.Warnings, "text extraction produced nothing")
	}

	var invoice *kra.InvoiceData
	if payload != nil && payload.IsVerificationURL() {
		invoice, err = p.verifier.Verify(ctx, payload.URL)
		if err != nil {
			log.Warn().Err(err).Msg("invoice verification errored")
		}
		if invoice == nil {
			res.Warnings = append(res.Warnings, "tax authority verification unavailable")
		}
	}

	match := p.recognizeStore(ctx, payload, ocrRes, invoice, opts, res)

	rec := p.buildRecord(res.ReceiptID, imageURL, contentHash, payload, ocrRes, invoice, match, opts)
	if !opts.SkipRaw {
		duplicateOf, archErr := p.archiver.Archive(ctx, rec)
		if archErr != nil {
			log.Error().Err(archErr).Msg("archival failed")
			res.Errors = append(res.Errors, "persisting raw record failed")
			res.Status = archive.StatusFailed
			return res
		}
		if duplicateOf != "" {
			res.DuplicateOf = duplicateOf
			res.Warnings = append(res.Warnings, "image already submitted as "+duplicateOf)
		}
		if err := p.archiver.Transition(ctx, rec, archive.StatusProcessing); err != nil {
			log.Warn().Err(err).Msg("status transition failed")
		}
	}

	bundle := template.SignalBundle{
		CodeFields:     codeFieldMap(payload),
		VerifierFields: verifierFieldMap(invoice),
	}
	if ocrRes != nil {
		bundle.OCRText = ocrRes.FullText
	}

	tpl, values := p.selectTemplate(bundle, match, opts)
	res.TemplateID = tpl.ID
	fillDerivedFields(values, ocrRes)
	res.Fields = values

	category := determineCategory(values, tpl)

	scores := map[string]int{}
	if payload != nil {
		scores[SourceCode] = payload.Confidence
	}
	if invoice != nil {
		scores[SourceVerifier] = invoice.Confidence
	}
	if ocrRes != nil {
		scores[SourceOCR] = ocrRes.Confidence
	}
	if match != nil && match.StoreID != "" {
		scores[SourceStore] = match.Confidence
	}

	if opts.ForceAI && !opts.SkipAI {
		enhanceInput := buildEnhanceInput(values, ocrRes, invoice, image, contentType, opts)
		res.Enhancement = p.enhancer.Enhance(ctx, enhanceInput)
		if res.Enhancement != nil {
			scores[SourceAI] = res.Enhancement.Confidence
			if res.Enhancement.Category != "" && category == "other" {
				category = res.Enhancement.Category
			}
		}
	}

	verified := invoice != nil && invoice.Verified
	validation := template.Validate(tpl, values, category, verified)
	res.Warnings = append(res.Warnings, validation.Warnings...)
	res.Errors = append(res.Errors, validation.Errors...)

	res.Confidence = p.overallConfidence(scores)
	res.Status = p.computeStatus(len(res.Errors), len(res.Warnings), res.Confidence, len(validation.MissingRequired) > 0)
	p.registry.RecordUse(tpl.ID, res.Status == archive.StatusSuccess)

	if !opts.SkipRaw {
		if err := p.archiver.Transition(ctx, rec, res.Status); err != nil {
			log.Warn().Err(err).Msg("terminal status transition failed")
		}
	}

	if opts.ReportID != "" && p.reports != nil {
		p.attachExpenseItem(ctx, res, values, category, opts)
	}

	// The full model pass is deferred to the background, and only when the
	// synchronous signals were not confident enough to settle the receipt.
	needsAI := !opts.SkipAI && !opts.ForceAI && !opts.SkipRaw &&
		p.queue != nil && res.Status != archive.StatusFailed &&
		res.Confidence < p.cfg.ReviewConfidenceThreshold
	if needsAI {
		p.enqueueEnhancement(ctx, res, category, opts)
	}

	log.Info().
		Str("receipt_id", res.ReceiptID).
		Str("status", string(res.Status)).
		Int("confidence", res.Confidence).
		Str("template", res.TemplateID).
		Msg("receipt processed")
	return res
}

func (p *Processor) recognizeStore(ctx context.Context, payload *qrcode.Payload, ocrRes *ocr.Result, invoice *kra.InvoiceData, opts Options, res *Result) *stores.Match {
	log := logger.Component(ctx, "processor")

	if opts.StoreID != "" {
		return &stores.Match{StoreID: opts.StoreID, Confidence: 100, MatchedBy: []string{"pinned"}}
	}

	sig := stores.Signals{}
	if payload != nil {
		sig.MerchantPIN = payload.MerchantPIN
		sig.TillNumber = payload.TillNumber
		sig.MerchantName = payload.MerchantName
		if payload.IsVerificationURL() {
			sig.VerificationURL = payload.URL
		}
	}
	// Verified data outranks code data outranks OCR for the name signal.
	if invoice != nil && invoice.MerchantName != "" {
		sig.MerchantName = invoice.MerchantName
	}
	if sig.MerchantName == "" && ocrRes != nil {
		sig.MerchantName = ocrRes.MerchantName
	}
	if opts.Latitude != nil && opts.Longitude != nil {
		sig.Location = &stores.Geolocation{Latitude: *opts.Latitude, Longitude: *opts.Longitude}
	}

	match, err := p.recognizer.Recognize(ctx, sig)
	if err != nil {
		log.Warn().Err(err).Msg("store recognition failed")
		res.Warnings = append(res.Warnings, "store recognition unavailable")
		return nil
	}
	if match != nil && match.StoreID != "" {
		res.StoreMatch = match
	}
	return match
}

func (p *Processor) buildRecord(id, imageURL, contentHash string, payload *qrcode.Payload, ocrRes *ocr.Result, invoice *kra.InvoiceData, match *stores.Match, opts Options) *archive.RawReceiptRecord {
	rec := &archive.RawReceiptRecord{
		ID:               id,
		UserID:           opts.UserID,
		UserEmail:        opts.UserEmail,
		WorkspaceID:      opts.WorkspaceID,
		ImageURL:         imageURL,
		ContentHash:      contentHash,
		Latitude:         opts.Latitude,
		Longitude:        opts.Longitude,
		LocationAccuracy: opts.LocationAccuracy,
		CapturedAt:       time.Now().UTC(),
	}
	if payload != nil {
		rec.CodeRawText = payload.RawText
		rec.CodeFields = codeFieldMap(payload)
	}
	if ocrRes != nil {
		rec.OCRText = ocrRes.FullText
	}
	if invoice != nil {
		rec.VerifierFields = verifierFieldMap(invoice)
	}
	if match != nil && match.StoreID != "" {
		rec.StoreID = match.StoreID
	}
	return rec
}

// selectTemplate picks the first suggested template that resolves the total
// amount, falling back to the configured generic template.
func (p *Processor) selectTemplate(bundle template.SignalBundle, match *stores.Match, opts Options) (*template.Template, map[string]template.FieldValue) {
	if opts.TemplateID != "" {
		if tpl, ok := p.registry.Get(opts.TemplateID); ok {
			return tpl, template.Resolve(tpl, bundle)
		}
	}

	var suggestions []string
	if match != nil {
		suggestions = match.SuggestedTemplates
	}
	for _, id := range suggestions {
		tpl, ok := p.registry.Get(id)
		if !ok {
			continue
		}
		values := template.Resolve(tpl, bundle)
		if _, resolved := values["totalAmount"]; resolved {
			return tpl, values
		}
	}

	tpl, ok := p.registry.Get(p.cfg.FallbackTemplateID)
	if !ok {
		tpl = &template.Template{ID: p.cfg.FallbackTemplateID}
	}
	return tpl, template.Resolve(tpl, bundle)
}

// fillDerivedFields backfills fuel fields the template patterns missed with
// what the OCR heuristics derived, including litres inferred from plausible
// pump prices and the cross-source price per litre.
func fillDerivedFields(values map[string]template.FieldValue, ocrRes *ocr.Result) {
	if ocrRes == nil {
		return
	}

	if _, ok := values["litres"]; !ok && ocrRes.Litres != nil {
		values["litres"] = numberValue(*ocrRes.Litres)
	}
	if _, ok := values["fuelType"]; !ok && ocrRes.FuelType != "" {
		values["fuelType"] = textValue(template.NormalizeFuelType(ocrRes.FuelType))
	}

	if _, ok := values["pricePerLitre"]; !ok {
		litres, hasLitres := values["litres"]
		total, hasTotal := values["totalAmount"]
		switch {
		case ocrRes.PricePerLitre != nil:
			values["pricePerLitre"] = numberValue(*ocrRes.PricePerLitre)
		case hasLitres && hasTotal && litres.Number != nil && total.Number != nil && *litres.Number > 0:
			values["pricePerLitre"] = numberValue(*total.Number / *litres.Number)
		}
	}
}

func determineCategory(values map[string]template.FieldValue, tpl *template.Template) string {
	if _, ok := values["fuelType"]; ok {
		return "fuel"
	}
	if tpl.Category != "" {
		return tpl.Category
	}
	return "other"
}

func buildEnhanceInput(values map[string]template.FieldValue, ocrRes *ocr.Result, invoice *kra.InvoiceData, image []byte, contentType string, opts Options) enhance.Input {
	input := enhance.Input{
		CaptureTime: time.Now().UTC(),
	}
	if v, ok := values["merchantName"]; ok {
		input.MerchantName = v.Text
	}
	if v, ok := values["totalAmount"]; ok {
		input.TotalAmount = v.Number
	}
	if v, ok := values["litres"]; ok {
		input.Litres = v.Number
	}
	if v, ok := values["fuelType"]; ok {
		input.FuelType = v.Text
	}
	if v, ok := values["pricePerLitre"]; ok {
		input.PricePerLitre = v.Number
	}
	if ocrRes != nil {
		input.Text = ocrRes.FullText
	}
	if invoice != nil {
		input.VerifiedMerchant = invoice.MerchantName
		input.VerifiedTotal = invoice.TotalAmount
		input.VerifiedDate = invoice.InvoiceDate
	}
	if opts.ForceAI {
		input.ImageBytes = image
		input.ImageMIME = contentType
	}
	return input
}

func (p *Processor) attachExpenseItem(ctx context.Context, res *Result, values map[string]template.FieldValue, category string, opts Options) {
	log := logger.Component(ctx, "processor")

	var amount float64
	if v, ok := values["totalAmount"]; ok && v.Number != nil {
		amount = *v.Number
	}
	description := category
	if v, ok := values["merchantName"]; ok && v.Text != "" {
		description = v.Text
	}

	itemID, err := p.reports.CreateItem(ctx, opts.ReportID, opts.UserEmail, res.ReceiptID, description, amount, category)
	if err != nil {
		log.Warn().Err(err).Str("report_id", opts.ReportID).Msg("expense item creation failed")
		res.Warnings = append(res.Warnings, "attaching expense item failed")
		return
	}
	res.ItemID = itemID
}

// enqueueEnhancement schedules the background model pass. The job goes out
// last so the expense item and report links are already known. The
// synchronous result carries a placeholder enhancement until the job lands.
func (p *Processor) enqueueEnhancement(ctx context.Context, res *Result, category string, opts Options) {
	log := logger.Component(ctx, "processor")

	job := &jobs.EnhanceReceiptJob{
		JobID:      uuid.NewString(),
		ReceiptID:  res.ReceiptID,
		ItemID:     res.ItemID,
		ReportID:   opts.ReportID,
		Status:     jobs.JobStatusPending,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: 3,
	}
	if err := p.queue.PublishEnhanceReceipt(ctx, job); err != nil {
		log.Warn().Err(err).Msg("scheduling background enhancement failed")
		res.Warnings = append(res.Warnings, "background enhancement not scheduled")
		return
	}
	res.EnhanceJob = job
	if category == "" {
		category = enhance.FallbackCategory
	}
	res.Enhancement = &enhance.Enhancement{Category: category, Confidence: 50}
}

// codeFieldMap flattens a payload for template code-key strategies: every
// parsed pair plus the canonical fields under the names templates use.
func codeFieldMap(p *qrcode.Payload) map[string]string {
	if p == nil {
		return nil
	}
	fields := make(map[string]string, len(p.Fields)+6)
	for k, v := range p.Fields {
		fields[k] = v
	}
	setNonEmpty(fields, "invoiceNumber", p.InvoiceNumber)
	setNonEmpty(fields, "merchantName", p.MerchantName)
	setNonEmpty(fields, "merchantPIN", p.MerchantPIN)
	setNonEmpty(fields, "tillNumber", p.TillNumber)
	setNonEmpty(fields, "timestamp", p.Timestamp)
	if p.TotalAmount != nil {
		fields["totalAmount"] = strconv.FormatFloat(*p.TotalAmount, 'f', 2, 64)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// verifierFieldMap flattens verified invoice data for template
// verifier-field strategies.
func verifierFieldMap(inv *kra.InvoiceData) map[string]string {
	if inv == nil {
		return nil
	}
	fields := make(map[string]string, 6)
	setNonEmpty(fields, "merchantName", inv.MerchantName)
	setNonEmpty(fields, "invoiceDate", inv.InvoiceDate)
	invoiceNumber := inv.ControlUnitInvoiceNumber
	if invoiceNumber == "" {
		invoiceNumber = inv.TraderInvoiceNumber
	}
	setNonEmpty(fields, "invoiceNumber", invoiceNumber)
	if inv.TotalAmount != nil {
		fields["totalAmount"] = strconv.FormatFloat(*inv.TotalAmount, 'f', 2, 64)
	}
	if inv.TaxableAmount != nil {
		fields["taxableAmount"] = strconv.FormatFloat(*inv.TaxableAmount, 'f', 2, 64)
	}
	if inv.VATAmount != nil {
		fields["vatAmount"] = strconv.FormatFloat(*inv.VATAmount, 'f', 2, 64)
	}
	return fields
}

func setNonEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func numberValue(n float64) template.FieldValue {
	return template.FieldValue{
		Text:   strconv.FormatFloat(n, 'f', -1, 64),
		Number: &n,
		Source: template.KindOCRPattern,
	}
}

func textValue(s string) template.FieldValue {
	return template.FieldValue{Text: s, Source: template.KindOCRPattern}
}
