package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/repository"
)

// PDFRenderer renders finished documents to PDF bytes. Pure function of
// document state, no side effects.
type PDFRenderer interface {
	RenderQuote(ctx context.Context, quote *repository.Quote) ([]byte, error)
	RenderInvoice(ctx context.Context, invoice *repository.Invoice) ([]byte, error)
	RenderMandateOrder(ctx context.Context, order *repository.Order) ([]byte, error)
	RenderMandateInvoice(ctx context.Context, invoice *repository.Invoice, order *repository.Order) ([]byte, error)
}

// HTTPPDFRenderer implements PDFRenderer against the internal render
// service, which takes a document JSON payload and returns PDF bytes.
type HTTPPDFRenderer struct {
	client    *http.Client
	renderURL string
}

// NewHTTPPDFRenderer creates a renderer client for the given endpoint.
func NewHTTPPDFRenderer(renderURL string, timeout time.Duration) *HTTPPDFRenderer {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &HTTPPDFRenderer{
		client:    &http.Client{Timeout: timeout},
		renderURL: renderURL,
	}
}

type renderRequest struct {
	Template string `json:"template"`
	Document any    `json:"document"`
}

func (r *HTTPPDFRenderer) render(ctx context.Context, template string, document any) ([]byte, error) {
	payload, err := json.Marshal(renderRequest{Template: template, Document: document})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to encode render request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.renderURL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to build render request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeliveryFailure, "render service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeDeliveryFailure, "render service returned %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeliveryFailure, "failed to read rendered PDF")
	}
	if len(pdf) == 0 {
		return nil, apperr.New(apperr.CodeDeliveryFailure, "render service returned an empty document")
	}

	return pdf, nil
}

// RenderQuote renders a quote (devis) to PDF.
func (r *HTTPPDFRenderer) RenderQuote(ctx context.Context, quote *repository.Quote) ([]byte, error) {
	return r.render(ctx, "quote", quote)
}

// RenderInvoice renders a mandate invoice (facture) to PDF.
func (r *HTTPPDFRenderer) RenderInvoice(ctx context.Context, invoice *repository.Invoice) ([]byte, error) {
	return r.render(ctx, "invoice", invoice)
}

// RenderMandateOrder renders a purchase order (bon de commande) to PDF.
func (r *HTTPPDFRenderer) RenderMandateOrder(ctx context.Context, order *repository.Order) ([]byte, error) {
	return r.render(ctx, "mandate_order", order)
}

// RenderMandateInvoice renders an invoice together with its order context,
// so the document carries the client's purchase order reference.
func (r *HTTPPDFRenderer) RenderMandateInvoice(ctx context.Context, invoice *repository.Invoice, order *repository.Order) ([]byte, error) {
	return r.render(ctx, "mandate_invoice", struct {
		Invoice *repository.Invoice `json:"invoice"`
		Order   *repository.Order   `json:"order"`
	}{Invoice: invoice, Order: order})
}

var _ PDFRenderer = (*HTTPPDFRenderer)(nil)

// String implements fmt.Stringer for log wiring messages.
func (r *HTTPPDFRenderer) String() string {
	return fmt.Sprintf("pdf-renderer(%s)", r.renderURL)
}
