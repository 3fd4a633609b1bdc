// Package docgen renders HR letters and agreements to HTML files that the
// API serves for download.
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/id"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Kind names a document template.
type Kind string

const (
	EmploymentLetter Kind = "employment_letter"
	ExperienceLetter Kind = "experience_letter"
	EmbassyLetter    Kind = "embassy_letter"
	ServiceAgreement Kind = "service_agreement"
)

// Label is the human name of the document.
func (k Kind) Label() string {
	switch k {
	case EmploymentLetter:
		return "Employment Letter"
	case ExperienceLetter:
		return "Experience Letter"
	case EmbassyLetter:
		return "Embassy Letter"
	case ServiceAgreement:
		return "Service Agreement"
	default:
		return string(k)
	}
}

// Field keys understood by the templates.
const (
	FieldName       = "name"
	FieldPosition   = "position"
	FieldDepartment = "department"
	FieldCompany    = "company"
	FieldCountry    = "country"
	FieldStartDate  = "start_date"
	FieldEndDate    = "end_date"
	FieldStreet     = "private_street"
	FieldLanguage   = "lang"
)

// Fields fills template placeholders.
type Fields map[string]string

// MissingFieldsError lists required fields that were empty.
type MissingFieldsError struct {
	Kind   Kind
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Kind.Label(), strings.Join(e.Fields, ", "))
}

var required = map[Kind][]string{
	EmploymentLetter: {FieldName},
	ExperienceLetter: {FieldName},
	EmbassyLetter:    {FieldName, FieldCountry, FieldStartDate, FieldEndDate},
	ServiceAgreement: {FieldName},
}

var subdirs = map[Kind]string{
	EmploymentLetter: "employment_letters",
	ExperienceLetter: "experience_letters",
	EmbassyLetter:    "embassy_letters",
	ServiceAgreement: "service_agreements",
}

// Document is a generated file.
type Document struct {
	Kind     Kind
	FileName string
	Path     string
	URL      string
	Size     int64
	Checksum string
	Preview  string
}

// Link returns the chat attachment for d.
func (d Document) Link() types.DocumentLink {
	return types.DocumentLink{FileName: d.FileName, FileURL: d.URL}
}

const (
	defaultSignatory = "Faisal Abdullah AlMamun"
	defaultCompany   = "Prezlab"
	previewLength    = 280
	mimeHTML         = "text/html; charset=utf-8"
)

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// Generator renders documents into an output directory.
type Generator struct {
	dir       string
	baseURL   string
	signatory string
	policy    *bluemonday.Policy
	hasher    *utils.Hasher
	now       func() time.Time
	log       *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithSignatory sets the People & Culture signatory.
func WithSignatory(name string) Option {
	return func(g *Generator) {
		if name != "" {
			g.signatory = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// New creates a generator writing below cfg.OutputDir.
func New(cfg config.DocsConfig, opts ...Option) (*Generator, error) {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("dir", "lang").Globally()
	policy.AllowElements("article")

	g := &Generator{
		dir:       cfg.OutputDir,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		signatory: defaultSignatory,
		policy:    policy,
		hasher:    utils.DefaultHasher(),
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(g.dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create document directory: %w", err)
		}
	}
	return g, nil
}

// Dir returns the output root.
func (g *Generator) Dir() string {
	return g.dir
}

// Generate renders kind with fields and writes it to disk.
func (g *Generator) Generate(ctx context.Context, kind Kind, fields Fields) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if _, ok := subdirs[kind]; !ok {
		return Document{}, fmt.Errorf("unknown document kind %q", kind)
	}
	fields = trimmed(fields)
	if missing := missingFields(kind, fields); len(missing) > 0 {
		return Document{}, &MissingFieldsError{Kind: kind, Fields: missing}
	}

	arabic := kind == EmploymentLetter && strings.HasPrefix(strings.ToLower(fields[FieldLanguage]), "ar")
	tmpl := templates[templateName(kind, arabic)]

	var body bytes.Buffer
	if err := tmpl.Execute(&body, g.letter(fields)); err != nil {
		return Document{}, fmt.Errorf("failed to render %s: %w", kind, err)
	}
	clean := g.policy.SanitizeBytes(body.Bytes())

	title := kind.Label()
	if arabic {
		title = "Arabic " + title
	}
	name := fileName(kind, arabic, fields[FieldName], g.now())
	content := fmt.Sprintf(page, html.EscapeString(title+" - "+fields[FieldName]), clean)

	path := filepath.Join(g.dir, subdirs[kind], name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Document{}, fmt.Errorf("failed to write %s: %w", kind, err)
	}

	doc := Document{
		Kind:     kind,
		FileName: name,
		Path:     path,
		URL:      g.baseURL + "/" + subdirs[kind] + "/" + url.PathEscape(name),
		Size:     int64(len(content)),
		Checksum: g.hasher.Hash([]byte(content)),
		Preview:  preview(clean),
	}
	g.log.Info("document generated",
		zap.String("kind", string(kind)),
		zap.String("file", name),
		zap.String("checksum", utils.Short(doc.Checksum)))
	return doc, nil
}

// ServiceAgreement drafts an agreement for a newly created employee.
func (g *Generator) ServiceAgreement(ctx context.Context, employee, street, company string) (types.Attachment, error) {
	doc, err := g.Generate(ctx, ServiceAgreement, Fields{
		FieldName:    employee,
		FieldStreet:  street,
		FieldCompany: company,
	})
	if err != nil {
		return types.Attachment{}, err
	}
	return types.Attachment{
		ID:       id.NewAttachmentID().String(),
		Name:     doc.FileName,
		MimeType: mimeHTML,
		Size:     doc.Size,
		URL:      doc.URL,
		Checksum: doc.Checksum,
	}, nil
}

func (g *Generator) letter(f Fields) letter {
	company := f[FieldCompany]
	if company == "" {
		company = defaultCompany
	}
	return letter{
		Date:       g.now().Format("02/01/2006"),
		Name:       f[FieldName],
		FirstName:  firstName(f[FieldName]),
		Position:   f[FieldPosition],
		Department: f[FieldDepartment],
		Company:    company,
		Country:    f[FieldCountry],
		StartDate:  f[FieldStartDate],
		EndDate:    f[FieldEndDate],
		Street:     f[FieldStreet],
		Signatory:  g.signatory,
	}
}

func templateName(kind Kind, arabic bool) string {
	switch kind {
	case EmploymentLetter:
		if arabic {
			return "employment_ar"
		}
		return "employment_en"
	case ExperienceLetter:
		return "experience"
	case EmbassyLetter:
		return "embassy"
	default:
		return "service_agreement"
	}
}

func fileName(kind Kind, arabic bool, person string, now time.Time) string {
	person = sanitizeFilePart(person)
	if person == "" {
		person = "Employee"
	}
	if kind == ServiceAgreement {
		return fmt.Sprintf("Service_Agreement_%s_%s.html", person, now.Format("20060102"))
	}
	label := strings.ToLower(kind.Label())
	if arabic {
		label = "arabic " + label
	}
	return label + " - " + person + ".html"
}

func sanitizeFilePart(s string) string {
	return strings.TrimSpace(unsafeFileChars.ReplaceAllString(s, "-"))
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func trimmed(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func missingFields(kind Kind, f Fields) []string {
	var missing []string
	for _, key := range required[kind] {
		if f[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// preview extracts a short plain-text summary of rendered HTML.
func preview(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	text := strings.Join(strings.Fields(doc.Find("article").Text()), " ")
	if text == "" {
		text = strings.Join(strings.Fields(doc.Text()), " ")
	}
	if r := []rune(text); len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return text
}
