package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate is the content of a retirement certificate.
type Certificate struct {
	CertificateID   string
	CompanyName     string
	ProjectName     string
	TokenID         string
	Tons            float64
	Verifier        string
	TransactionHash string
	RetiredDate     time.Time
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int
	G int
	B int
}

// CertificateGenerator renders retirement certificates
type CertificateGenerator struct {
	FontFamily  string
	AccentColor PDFColor
	DateFormat  string
}

// NewCertificateGenerator returns a generator with the house style.
func NewCertificateGenerator() *CertificateGenerator {
	return &CertificateGenerator{
		FontFamily:  "Helvetica",
		AccentColor: PDFColor{R: 46, G: 125, B: 50},
		DateFormat:  "January 2, 2006",
	}
}

// Render returns the certificate as a single landscape A4 PDF page.
func (g *CertificateGenerator) Render(cert Certificate) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Carbon Credit Retirement Certificate "+cert.CertificateID, true)
	pdf.SetAuthor("C-Square", true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	width, height := pdf.GetPageSize()
	accent := g.AccentColor

	pdf.SetDrawColor(accent.R, accent.G, accent.B)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, width-20, height-20, "D")

	pdf.SetY(30)
	pdf.SetFont(g.FontFamily, "B", 26)
	pdf.SetTextColor(accent.R, accent.G, accent.B)
	pdf.CellFormat(0, 14, "Certificate of Carbon Credit Retirement", "", 1, "C", false, 0, "")

	pdf.SetFont(g.FontFamily, "", 13)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 10, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont(g.FontFamily, "B", 22)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 14, cert.CompanyName, "", 1, "C", false, 0, "")

	pdf.SetFont(g.FontFamily, "", 13)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 10, "has permanently retired", "", 1, "C", false, 0, "")

	pdf.SetFont(g.FontFamily, "B", 20)
	pdf.SetTextColor(accent.R, accent.G, accent.B)
	pdf.CellFormat(0, 12, formatTons(cert.Tons)+" tCO2e", "", 1, "C", false, 0, "")

	pdf.SetFont(g.FontFamily, "", 13)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 10, "from "+cert.ProjectName, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	details := [][2]string{
		{"Certificate ID", cert.CertificateID},
		{"Credit token", cert.TokenID},
		{"Verifier", cert.Verifier},
		{"Transaction", cert.TransactionHash},
		{"Retired on", cert.RetiredDate.UTC().Format(g.DateFormat)},
	}
	labelWidth, valueWidth := 50.0, 120.0
	left := (width - labelWidth - valueWidth) / 2
	for _, d := range details {
		pdf.SetX(left)
		pdf.SetFont(g.FontFamily, "B", 11)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(labelWidth, 8, d[0], "B", 0, "L", false, 0, "")
		pdf.SetFont(g.FontFamily, "", 11)
		pdf.CellFormat(valueWidth, 8, d[1], "B", 1, "L", false, 0, "")
	}

	pdf.SetY(height - 28)
	pdf.SetFont(g.FontFamily, "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued by the C-Square marketplace on %s", time.Now().UTC().Format(g.DateFormat)), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTons(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
