package extraction

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// receiptScanPrompt is the prompt sent to the vision model alongside the
// rendered receipt page.
const receiptScanPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Vendor**: the merchant, store or business name, usually the largest text or header at the top of the receipt. Examples: "Walmart", "CVS Pharmacy", "Target".

2. **Date**: the transaction, purchase or invoice date. Convert it to ISO 8601 format (YYYY-MM-DD). Common source formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Total Amount**: the final total, grand total or amount due, usually at the bottom, labeled "TOTAL", "Amount Due" or similar. Extract only the numeric value (e.g., 42.75).

4. **Currency**: the ISO 4217 currency code of the total (e.g., "USD", "EUR", "GBP"). Infer it from the currency symbol or wording if no code is printed.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Store Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "currency": "USD"
}

Important:
- The date must be in YYYY-MM-DD format
- The amount must be a number (not a string)
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as a PNG image. Receipts
// are effectively always single page.
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}
