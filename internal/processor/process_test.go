package processor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mafutapass/receipts/internal/archive"
	"github.com/mafutapass/receipts/internal/enhance"
	infra "github.com/mafutapass/receipts/internal/infra/bigquery"
	"github.com/mafutapass/receipts/internal/jobs"
	"github.com/mafutapass/receipts/internal/kra"
	"github.com/mafutapass/receipts/internal/ocr"
	"github.com/mafutapass/receipts/internal/qrcode"
	"github.com/mafutapass/receipts/internal/reports"
	"github.com/mafutapass/receipts/internal/stores"
	"github.com/mafutapass/receipts/internal/template"
)

type mockDecoder struct {
	decodeFunc func(ctx context.Context, imageBytes []byte) (*qrcode.Payload, error)
}

func (m *mockDecoder) Decode(ctx context.Context, imageBytes []byte) (*qrcode.Payload, error) {
	if m.decodeFunc != nil {
		return m.decodeFunc(ctx, imageBytes)
	}
	return nil, nil
}

type mockExtractor struct {
	extractFunc func(ctx context.Context, imageBytes []byte) (*ocr.Result, error)
}

func (m *mockExtractor) Extract(ctx context.Context, imageBytes []byte) (*ocr.Result, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, imageBytes)
	}
	return nil, nil
}

type mockVerifier struct {
	verifyFunc func(ctx context.Context, url string) (*kra.InvoiceData, error)
	calls      int
}

func (m *mockVerifier) Verify(ctx context.Context, url string) (*kra.InvoiceData, error) {
	m.calls++
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, url)
	}
	return nil, nil
}

type mockRecognizer struct {
	recognizeFunc func(ctx context.Context, sig stores.Signals) (*stores.Match, error)
}

func (m *mockRecognizer) Recognize(ctx context.Context, sig stores.Signals) (*stores.Match, error) {
	if m.recognizeFunc != nil {
		return m.recognizeFunc(ctx, sig)
	}
	return &stores.Match{}, nil
}

type mockCategorizer struct {
	enhanceFunc func(ctx context.Context, input enhance.Input) *enhance.Enhancement
}

func (m *mockCategorizer) Enhance(ctx context.Context, input enhance.Input) *enhance.Enhancement {
	if m.enhanceFunc != nil {
		return m.enhanceFunc(ctx, input)
	}
	return &enhance.Enhancement{Category: "other", Confidence: 50}
}

type mockReceiptRepo struct {
	archive.Repository
	insertFunc          func(ctx context.Context, rec *archive.RawReceiptRecord) error
	getByIDFunc         func(ctx context.Context, id string) (*archive.RawReceiptRecord, error)
	getByHashFunc       func(ctx context.Context, hash string) (*archive.RawReceiptRecord, error)
	updateStatusFunc    func(ctx context.Context, id string, status archive.Status) error
	updateAIPayloadFunc func(ctx context.Context, id string, payload *enhance.Enhancement) error
}

func (m *mockReceiptRepo) Insert(ctx context.Context, rec *archive.RawReceiptRecord) error {
	if m.insertFunc != nil {
		return m.insertFunc(ctx, rec)
	}
	return nil
}

func (m *mockReceiptRepo) GetByID(ctx context.Context, id string) (*archive.RawReceiptRecord, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockReceiptRepo) GetByHash(ctx context.Context, hash string) (*archive.RawReceiptRecord, error) {
	if m.getByHashFunc != nil {
		return m.getByHashFunc(ctx, hash)
	}
	return nil, nil
}

func (m *mockReceiptRepo) UpdateStatus(ctx context.Context, id string, status archive.Status) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockReceiptRepo) UpdateAIPayload(ctx context.Context, id string, payload *enhance.Enhancement) error {
	if m.updateAIPayloadFunc != nil {
		return m.updateAIPayloadFunc(ctx, id, payload)
	}
	return nil
}

type mockObjects struct {
	uploadFunc func(ctx context.Context, pathHint string, data []byte, contentType string) (string, error)
	fetchFunc  func(ctx context.Context, uri string) ([]byte, error)
}

func (m *mockObjects) Upload(ctx context.Context, pathHint string, data []byte, contentType string) (string, error) {
	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, pathHint, data, contentType)
	}
	return "https://storage.googleapis.com/receipts/" + pathHint, nil
}

func (m *mockObjects) PublicURL(objectPath string) string {
	return "https://storage.googleapis.com/receipts/" + objectPath
}

func (m *mockObjects) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, uri)
	}
	return []byte("image"), nil
}

type mockQueue struct {
	published  []*jobs.EnhanceReceiptJob
	publishErr error
}

func (m *mockQueue) PublishEnhanceReceipt(ctx context.Context, job *jobs.EnhanceReceiptJob) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, job)
	return nil
}

func (m *mockQueue) Close() error { return nil }

type mockReportStore struct {
	items      []*infra.ExpenseItemRow
	totals     map[string]float64
	categories map[string]string
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{totals: map[string]float64{}, categories: map[string]string{}}
}

func (m *mockReportStore) InsertItem(ctx context.Context, row *infra.ExpenseItemRow) error {
	m.items = append(m.items, row)
	return nil
}

func (m *mockReportStore) UpdateItemCategory(ctx context.Context, itemID, category string) error {
	m.categories[itemID] = category
	return nil
}

func (m *mockReportStore) ListItemsByReport(ctx context.Context, reportID string) ([]*infra.ExpenseItemRow, error) {
	var out []*infra.ExpenseItemRow
	for _, item := range m.items {
		if item.ReportID == reportID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockReportStore) SetReportTotal(ctx context.Context, reportID string, total float64) error {
	m.totals[reportID] = total
	return nil
}

const kraInvoiceURL = "https://itax.kra.go.ke/KRA-Portal/invoiceChk.htm?actionCode=loadPage&invoiceNo=0011223344"

const fuelReceiptText = `SHELL WESTLANDS
CASH SALE
DIESEL 37.62 Ltr
TOTAL KES 5000.00
15/08/2026
INV NO: CU-0011223344
PUMP: 4`

func floatPtr(f float64) *float64 { return &f }

func verifiedFuelInvoice() *kra.InvoiceData {
	return &kra.InvoiceData{
		ControlUnitInvoiceNumber: "0011223344",
		MerchantName:             "SHELL WESTLANDS SERVICE STATION",
		InvoiceDate:              "15/08/2026",
		TotalAmount:              floatPtr(5000),
		Verified:                 true,
		Confidence:               kra.VerifiedConfidence,
	}
}

func shellMatch() *stores.Match {
	return &stores.Match{
		StoreID:            "store-shell-westlands",
		StoreName:          "Shell Westlands",
		ChainName:          "Shell",
		Confidence:         95,
		MatchedBy:          []string{"pin"},
		SuggestedTemplates: []string{"shell-fuel", "generic-ocr"},
	}
}

type testFixture struct {
	repo     *mockReceiptRepo
	verifier *mockVerifier
	queue    *mockQueue
	reports  *mockReportStore
	proc     *Processor
}

func newFuelFixture() *testFixture {
	f := &testFixture{
		repo:    &mockReceiptRepo{},
		queue:   &mockQueue{},
		reports: newMockReportStore(),
		verifier: &mockVerifier{
			verifyFunc: func(ctx context.Context, url string) (*kra.InvoiceData, error) {
				return verifiedFuelInvoice(), nil
			},
		},
	}
	f.proc = New(DefaultConfig(), Deps{
		Decoder: &mockDecoder{decodeFunc: func(ctx context.Context, _ []byte) (*qrcode.Payload, error) {
			return qrcode.ParsePayload(kraInvoiceURL), nil
		}},
		OCR: &mockExtractor{extractFunc: func(ctx context.Context, _ []byte) (*ocr.Result, error) {
			return ocr.ParseReceiptText(fuelReceiptText), nil
		}},
		Verifier: f.verifier,
		Recognizer: &mockRecognizer{recognizeFunc: func(ctx context.Context, sig stores.Signals) (*stores.Match, error) {
			return shellMatch(), nil
		}},
		Enhancer: &mockCategorizer{},
		Registry: template.DefaultRegistry(),
		Receipts: f.repo,
		Objects:  &mockObjects{},
		Queue:    f.queue,
		Reports:  reports.NewManager(f.reports),
	})
	return f
}

func TestProcess_VerifiedFuelReceipt(t *testing.T) {
	f := newFuelFixture()

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{
		UserEmail: "driver@example.com",
		Filename:  "pump.jpg",
	})

	if f.verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1", f.verifier.calls)
	}
	if res.TemplateID != "shell-fuel" {
		t.Errorf("TemplateID = %q, want shell-fuel", res.TemplateID)
	}

	total, ok := res.Fields["totalAmount"]
	if !ok || total.Number == nil || *total.Number != 5000 {
		t.Fatalf("totalAmount = %+v, want 5000", total)
	}
	if total.Source != template.KindVerifierField {
		t.Errorf("totalAmount source = %v, want verifier", total.Source)
	}
	if got := res.Fields["merchantName"].Text; got != "SHELL WESTLANDS SERVICE STATION" {
		t.Errorf("merchantName = %q, want verified name", got)
	}
	if got := res.Fields["fuelType"].Text; got != "DIESEL" {
		t.Errorf("fuelType = %q, want DIESEL", got)
	}
	litres := res.Fields["litres"]
	if litres.Number == nil || *litres.Number != 37.62 {
		t.Errorf("litres = %+v, want 37.62", litres)
	}
	price := res.Fields["pricePerLitre"]
	if price.Number == nil || *price.Number < 132 || *price.Number > 134 {
		t.Fatalf("pricePerLitre = %+v, want about 132.9", price)
	}

	// 132.9 per litre is below the plausible diesel band, so the receipt
	// lands in review despite its high signal confidence.
	if res.Status != archive.StatusNeedsReview {
		t.Errorf("Status = %s, want needs_review", res.Status)
	}
	if len(res.Errors) == 0 {
		t.Error("want a price plausibility error")
	}
	if res.Confidence != 96 {
		t.Errorf("Confidence = %d, want 96 (mean of 100, 100, 90, 95)", res.Confidence)
	}
	if res.StoreMatch == nil || res.StoreMatch.StoreID != "store-shell-westlands" {
		t.Errorf("StoreMatch = %+v, want shell westlands", res.StoreMatch)
	}

	// Confidence 96 clears the review threshold, so no background model
	// pass is scheduled.
	if len(f.queue.published) != 0 {
		t.Errorf("published jobs = %d, want 0 at high confidence", len(f.queue.published))
	}
	if res.EnhanceJob != nil || res.Enhancement != nil {
		t.Errorf("EnhanceJob = %+v, Enhancement = %+v, want neither", res.EnhanceJob, res.Enhancement)
	}
}

func TestProcess_MissingTotalFails(t *testing.T) {
	f := newFuelFixture()
	f.proc.decoder = &mockDecoder{}
	f.proc.recognizer = &mockRecognizer{}
	f.proc.ocr = &mockExtractor{extractFunc: func(ctx context.Context, _ []byte) (*ocr.Result, error) {
		return ocr.ParseReceiptText("SHELL WESTLANDS\n15/08/2026\nINV NO: CU-0011223344"), nil
	}}

	res := f.proc.Process(context.Background(), []byte("torn-receipt"), Options{UserEmail: "driver@example.com"})

	// Merchant, date and invoice number were read, but a receipt whose
	// total cannot be extracted is unusable regardless of that signal.
	if res.Status != archive.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if res.Confidence != 70 {
		t.Errorf("Confidence = %d, want 70 from the partial text", res.Confidence)
	}

	foundMissingTotal := false
	for _, e := range res.Errors {
		if strings.Contains(e, "totalAmount") {
			foundMissingTotal = true
		}
	}
	if !foundMissingTotal {
		t.Errorf("Errors = %v, want missing totalAmount", res.Errors)
	}
	if len(f.queue.published) != 0 {
		t.Errorf("published jobs = %d, want 0 for a failed receipt", len(f.queue.published))
	}
}

func TestProcess_NoSignalsFails(t *testing.T) {
	f := newFuelFixture()
	f.proc.decoder = &mockDecoder{}
	f.proc.ocr = &mockExtractor{}
	f.proc.recognizer = &mockRecognizer{}

	res := f.proc.Process(context.Background(), []byte("blurry"), Options{UserEmail: "driver@example.com"})

	if res.Status != archive.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", res.Confidence)
	}
	if f.verifier.calls != 0 {
		t.Errorf("verifier calls = %d, want 0 without a code", f.verifier.calls)
	}

	foundMissingTotal := false
	for _, e := range res.Errors {
		if strings.Contains(e, "totalAmount") {
			foundMissingTotal = true
		}
	}
	if !foundMissingTotal {
		t.Errorf("Errors = %v, want missing totalAmount", res.Errors)
	}

	foundNoCode := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "no machine-readable code") {
			foundNoCode = true
		}
	}
	if !foundNoCode {
		t.Errorf("Warnings = %v, want missing-code warning", res.Warnings)
	}
}

func TestProcess_CodeDataBeatsText(t *testing.T) {
	f := newFuelFixture()
	f.proc.decoder = &mockDecoder{decodeFunc: func(ctx context.Context, _ []byte) (*qrcode.Payload, error) {
		return qrcode.ParsePayload("MERCHANT=Naivas;TOTAL=4990;PIN=P051234567X"), nil
	}}
	f.proc.ocr = &mockExtractor{extractFunc: func(ctx context.Context, _ []byte) (*ocr.Result, error) {
		return ocr.ParseReceiptText("NAIVAS LIMITED\nTOTAL KES 9999.00\n15/08/2026"), nil
	}}
	f.proc.recognizer = &mockRecognizer{}

	res := f.proc.Process(context.Background(), []byte("grocery"), Options{UserEmail: "driver@example.com"})

	total := res.Fields["totalAmount"]
	if total.Number == nil || *total.Number != 4990 {
		t.Fatalf("totalAmount = %+v, want 4990 from the code", total)
	}
	if total.Source != template.KindCodeKey {
		t.Errorf("totalAmount source = %v, want code", total.Source)
	}
	if got := res.Fields["merchantName"].Text; got != "Naivas" {
		t.Errorf("merchantName = %q, want Naivas from the code", got)
	}
}

func TestProcess_DuplicateImageWarns(t *testing.T) {
	f := newFuelFixture()
	f.repo.getByHashFunc = func(ctx context.Context, hash string) (*archive.RawReceiptRecord, error) {
		return &archive.RawReceiptRecord{ID: "earlier", ContentHash: hash}, nil
	}

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{UserEmail: "driver@example.com"})

	if res.DuplicateOf != "earlier" {
		t.Errorf("DuplicateOf = %q, want earlier", res.DuplicateOf)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "earlier") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want duplicate warning", res.Warnings)
	}
}

func TestProcess_UploadFailureIsFatal(t *testing.T) {
	f := newFuelFixture()
	f.proc.objects = &mockObjects{uploadFunc: func(ctx context.Context, _ string, _ []byte, _ string) (string, error) {
		return "", errors.New("bucket unavailable")
	}}

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{UserEmail: "driver@example.com"})

	if res.Status != archive.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if len(res.Errors) == 0 {
		t.Error("want a storage error")
	}
}

func TestProcess_AttachesExpenseItemAndSchedulesEnhancement(t *testing.T) {
	f := newFuelFixture()
	// A low-signal receipt: text only, no code, no verifier, no store. The
	// synchronous confidence stays under the review threshold, which is
	// what defers the model pass to the background.
	f.proc.decoder = &mockDecoder{}
	f.proc.recognizer = &mockRecognizer{}
	f.proc.ocr = &mockExtractor{extractFunc: func(ctx context.Context, _ []byte) (*ocr.Result, error) {
		return ocr.ParseReceiptText("SHELL WESTLANDS\nDIESEL 37.62 Ltr\nTOTAL KES 5000.00"), nil
	}}

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{
		UserEmail: "driver@example.com",
		ReportID:  "rep1",
	})

	if res.Confidence != 50 {
		t.Errorf("Confidence = %d, want 50 from text alone", res.Confidence)
	}

	if res.ItemID == "" {
		t.Fatal("want an expense item id")
	}
	if got := f.reports.totals["rep1"]; got != 5000 {
		t.Errorf("report total = %v, want 5000", got)
	}

	if res.EnhanceJob == nil {
		t.Fatal("want a scheduled enhancement job")
	}
	if len(f.queue.published) != 1 {
		t.Fatalf("published jobs = %d, want 1", len(f.queue.published))
	}
	job := f.queue.published[0]
	if job.ReceiptID != res.ReceiptID || job.ItemID != res.ItemID || job.ReportID != "rep1" {
		t.Errorf("job = %+v, want links to receipt %s and item %s", job, res.ReceiptID, res.ItemID)
	}

	// The synchronous result carries a placeholder until the job lands.
	if res.Enhancement == nil || res.Enhancement.Confidence != 50 {
		t.Errorf("Enhancement = %+v, want placeholder with confidence 50", res.Enhancement)
	}
	if res.Enhancement.Category != "fuel" {
		t.Errorf("placeholder category = %q, want fuel", res.Enhancement.Category)
	}
}

func TestProcess_ForceAIRunsSynchronously(t *testing.T) {
	f := newFuelFixture()
	var sawImage bool
	f.proc.enhancer = &mockCategorizer{enhanceFunc: func(ctx context.Context, input enhance.Input) *enhance.Enhancement {
		sawImage = len(input.ImageBytes) > 0
		return &enhance.Enhancement{Category: "fuel", Subcategory: "DIESEL", Confidence: 88}
	}}

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{
		UserEmail: "driver@example.com",
		ForceAI:   true,
	})

	if !sawImage {
		t.Error("want the image handed to the categorizer")
	}
	if res.Enhancement == nil || res.Enhancement.Confidence != 88 {
		t.Fatalf("Enhancement = %+v, want the model result", res.Enhancement)
	}
	if len(f.queue.published) != 0 {
		t.Errorf("published jobs = %d, want 0 when AI ran synchronously", len(f.queue.published))
	}
	// Mean of 100, 100, 90, 95 and the AI's 88.
	if res.Confidence != 95 {
		t.Errorf("Confidence = %d, want 95", res.Confidence)
	}
}

func TestProcess_SkipAI(t *testing.T) {
	f := newFuelFixture()

	res := f.proc.Process(context.Background(), []byte("fuel-image"), Options{
		UserEmail: "driver@example.com",
		SkipAI:    true,
	})

	if res.Enhancement != nil {
		t.Errorf("Enhancement = %+v, want none", res.Enhancement)
	}
	if len(f.queue.published) != 0 {
		t.Errorf("published jobs = %d, want 0", len(f.queue.published))
	}
}

func TestEnhanceHandler_AppliesPayloadAndCategory(t *testing.T) {
	f := newFuelFixture()

	var savedPayload *enhance.Enhancement
	f.repo.getByIDFunc = func(ctx context.Context, id string) (*archive.RawReceiptRecord, error) {
		return &archive.RawReceiptRecord{
			ID:       id,
			ImageURL: "https://storage.googleapis.com/receipts/pump.jpg",
			OCRText:  fuelReceiptText,
			VerifierFields: map[string]string{
				"merchantName": "SHELL WESTLANDS SERVICE STATION",
				"invoiceDate":  "15/08/2026",
			},
			Status: archive.StatusNeedsReview,
		}, nil
	}
	f.repo.updateAIPayloadFunc = func(ctx context.Context, id string, payload *enhance.Enhancement) error {
		savedPayload = payload
		return nil
	}
	f.proc.enhancer = &mockCategorizer{enhanceFunc: func(ctx context.Context, input enhance.Input) *enhance.Enhancement {
		if input.VerifiedMerchant != "SHELL WESTLANDS SERVICE STATION" {
			t.Errorf("VerifiedMerchant = %q, want the archived value", input.VerifiedMerchant)
		}
		return &enhance.Enhancement{Category: "fuel", Subcategory: "DIESEL", Confidence: 92}
	}}

	f.reports.items = append(f.reports.items, &infra.ExpenseItemRow{ItemID: "item1", ReportID: "rep1", Amount: 5000})

	handler := f.proc.EnhanceHandler()
	err := handler(context.Background(), &jobs.EnhanceReceiptJob{
		JobID:     "job1",
		ReceiptID: "r1",
		ItemID:    "item1",
		ReportID:  "rep1",
	})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if savedPayload == nil || savedPayload.Confidence != 92 {
		t.Fatalf("saved payload = %+v, want the model result", savedPayload)
	}
	if f.reports.categories["item1"] != "fuel" {
		t.Errorf("item category = %q, want fuel", f.reports.categories["item1"])
	}
	if f.reports.totals["rep1"] != 5000 {
		t.Errorf("report total = %v, want recomputed 5000", f.reports.totals["rep1"])
	}
}

func TestEnhanceHandler_MissingRecord(t *testing.T) {
	f := newFuelFixture()

	handler := f.proc.EnhanceHandler()
	err := handler(context.Background(), &jobs.EnhanceReceiptJob{JobID: "job1", ReceiptID: "ghost"})
	if err == nil {
		t.Fatal("want an error for a missing record")
	}
}
