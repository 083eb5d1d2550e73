package processor

import (
	"fmt"
	"strings"
	"time"

	"agent-payments/internal/storage/postgres"
)

// receiptLines renders the transaction as the text body of a receipt.
func receiptLines(tx *postgres.Transaction) []string {
	lines := []string{
		"AP2 PAYMENT RECEIPT",
		"",
		fmt.Sprintf("Transaction: %s", tx.ID),
		fmt.Sprintf("Date:        %s", tx.CreatedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Payer:       %s", tx.PayerID),
		fmt.Sprintf("Merchant:    %s", tx.MerchantID),
		fmt.Sprintf("Amount:      %d %s", tx.Amount, tx.Currency),
		fmt.Sprintf("Status:      %s", tx.Status),
	}
	if tx.AuthCode != nil {
		lines = append(lines, fmt.Sprintf("Auth code:   %s", *tx.AuthCode))
	}
	if tx.NetworkTxID != nil {
		lines = append(lines, fmt.Sprintf("Network ref: %s", *tx.NetworkTxID))
	}
	if tx.OriginalTxID != nil {
		lines = append(lines, fmt.Sprintf("Refund of:   %s", *tx.OriginalTxID))
	}
	return lines
}

// renderPDF produces a minimal single-page PDF with the lines set in
// 12pt Courier. Deterministic for a given transaction.
func renderPDF(lines []string) []byte {
	var text strings.Builder
	text.WriteString("BT /F1 12 Tf 50 760 Td 16 TL\n")
	for _, line := range lines {
		text.WriteString(fmt.Sprintf("(%s) Tj T*\n", escapePDF(line)))
	}
	text.WriteString("ET")
	stream := text.String()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>",
	}

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		buf.WriteString(fmt.Sprintf("%d 0 obj\n%s\nendobj\n", i+1, obj))
	}

	xref := buf.Len()
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(objects)+1))
	for i := 1; i <= len(objects); i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref))
	return []byte(buf.String())
}

func escapePDF(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
