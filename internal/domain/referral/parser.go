package referral

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/refcrm/refcrm/internal/domain/refdata"
)

// ProcedureSource resolves candidate procedure codes for a set of
// service-type names. Satisfied by refdata.Service.
type ProcedureSource interface {
	ProceduresForServiceTypes(ctx context.Context, serviceTypes []string, withContrast *bool) ([]*refdata.ProcedureCode, error)
}

type servicePattern struct {
	name     string
	modality string
	keywords []string
}

// Ordered keyword tables. Order encodes priority: the first matching
// keyword decides, so specific entries (MRI) precede generic ones (CT).
var servicePatterns = []servicePattern{
	{"MRI", ModalityImaging, []string{"mri", "magnetic resonance", "mr imaging", "mr scan"}},
	{"CT Scan", ModalityImaging, []string{"ct", "cat scan", "computed tomography", "ct scan"}},
	{"X-Ray", ModalityImaging, []string{"x-ray", "xray", "x ray", "radiograph", "plain film"}},
	{"Ultrasound", ModalityImaging, []string{"ultrasound", "sonograph", "us ", "sonogram"}},
	{"PT Evaluation", ModalityPhysical, []string{"pt eval", "physical therapy eval", "pt evaluation"}},
	{"PT Treatment", ModalityPhysical, []string{"pt ", "physical therapy", "physiotherapy", "pt treatment", "therapeutic exercise"}},
	{"OT Evaluation", ModalityOccupation, []string{"ot eval", "occupational therapy eval"}},
	{"OT Treatment", ModalityOccupation, []string{"ot ", "occupational therapy"}},
	{"Chiropractic", ModalityChiro, []string{"chiro", "chiropractic", "spinal manipulation"}},
	{"IME", ModalityIME, []string{"ime", "independent medical exam", "independent medical evaluation"}},
	{"FCE", ModalityFCE, []string{"fce", "functional capacity", "functional capacity evaluation"}},
	{"Injection", ModalityInjection, []string{"injection", "epidural", "nerve block", "facet", "trigger point", "cortisone"}},
}

type bodyRegionPattern struct {
	name     string
	group    string
	keywords []string
}

var bodyRegionPatterns = []bodyRegionPattern{
	{"Lumbar Spine", "Spine", []string{"lumbar", "lower back", "l-spine", "lumbosacral", "ls spine"}},
	{"Cervical Spine", "Spine", []string{"cervical", "c-spine", "neck"}},
	{"Thoracic Spine", "Spine", []string{"thoracic", "t-spine", "mid back", "dorsal"}},
	{"Shoulder", "Upper Extremity", []string{"shoulder", "rotator cuff", "glenohumeral"}},
	{"Elbow", "Upper Extremity", []string{"elbow", "cubital"}},
	{"Wrist", "Upper Extremity", []string{"wrist", "carpal"}},
	{"Hand", "Upper Extremity", []string{"hand", "finger", "thumb"}},
	{"Hip", "Lower Extremity", []string{"hip", "pelvis", "acetabul"}},
	{"Knee", "Lower Extremity", []string{"knee", "patella", "meniscus", "acl", "mcl"}},
	{"Ankle", "Lower Extremity", []string{"ankle", "achilles"}},
	{"Foot", "Lower Extremity", []string{"foot", "toe", "plantar"}},
	{"Brain", "Head/Neck", []string{"brain", "head", "cranial"}},
}

type lateralityPattern struct {
	value    string
	keywords []string
}

var lateralityPatterns = []lateralityPattern{
	{"left", []string{"left", "l ", "lt ", "l.", "lt."}},
	{"right", []string{"right", "r ", "rt ", "r.", "rt."}},
	{"bilateral", []string{"bilateral", "both", "b/l", "bil"}},
}

// Only these modalities map to reference service types for procedure
// derivation. Modalities outside the map skip derivation rather than
// pulling an arbitrary first row from the whole table.
var modalityServiceTypes = map[string][]string{
	ModalityImaging:    {"MRI", "CT Scan", "X-Ray", "Ultrasound"},
	ModalityPhysical:   {"PT Evaluation", "PT Treatment"},
	ModalityOccupation: {"OT Evaluation", "OT Treatment"},
}

const maxAlternateCodes = 3

var (
	newlineRe  = regexp.MustCompile(`\n+`)
	semiRe     = regexp.MustCompile(`\s*;\s*`)
	andSplitRe = regexp.MustCompile(`(?i)\s+and\s+`)
	quantityRe = regexp.MustCompile(`x\s*(\d+)|(\d+)\s*(visits?|sessions?|treatments?)`)
)

// Parser splits free-text service requests into structured line items.
type Parser struct {
	procedures ProcedureSource
}

func NewParser(procedures ProcedureSource) *Parser {
	return &Parser{procedures: procedures}
}

// ParseResult carries the parsed items plus non-fatal warnings (such as
// alternate procedure codes that also matched).
type ParseResult struct {
	Items    []LineItem
	Warnings []string
}

// Parse splits serviceText into line items. The referral-level diagnosis
// code and description, if set, are copied onto every item; confidence is
// propagated unchanged.
func (p *Parser) Parse(ctx context.Context, serviceText string, icd10Code, icd10Desc *string, confidence float64) (*ParseResult, error) {
	res := &ParseResult{}
	if strings.TrimSpace(serviceText) == "" {
		return res, nil
	}

	line := 0
	for _, part := range splitServices(serviceText) {
		part = strings.TrimSpace(part)
		if len(part) < 3 {
			continue
		}
		line++
		item := parseSingleService(part, line)
		if icd10Code != nil && *icd10Code != "" {
			item.ICD10Code = icd10Code
			item.ICD10Description = icd10Desc
		}
		item.Confidence = confidence
		item.Source = "extraction"
		if err := p.deriveProcedureCode(ctx, &item, res); err != nil {
			return nil, err
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

// splitServices breaks the raw text on newlines, semicolons, and top-level
// commas, then on " and " unless the segment reads "with and without".
func splitServices(text string) []string {
	text = newlineRe.ReplaceAllString(text, ", ")
	text = semiRe.ReplaceAllString(text, ", ")

	var parts []string
	var current strings.Builder
	depth := 0
	for _, ch := range text {
		switch {
		case ch == '(':
			depth++
			current.WriteRune(ch)
		case ch == ')':
			depth--
			current.WriteRune(ch)
		case ch == ',' && depth == 0:
			if s := strings.TrimSpace(current.String()); s != "" {
				parts = append(parts, s)
			}
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}

	var final []string
	for _, part := range parts {
		lower := strings.ToLower(part)
		if strings.Contains(lower, " and ") && !strings.Contains(lower, "with and without") {
			final = append(final, andSplitRe.Split(part, -1)...)
		} else {
			final = append(final, part)
		}
	}
	return final
}

func parseSingleService(text string, lineNumber int) LineItem {
	lower := strings.ToLower(text)
	item := LineItem{
		LineNumber:         lineNumber,
		ServiceDescription: text,
		Modality:           ModalityOther,
		Quantity:           1,
		Status:             LineItemPending,
	}

	for _, sp := range servicePatterns {
		if containsAny(lower, sp.keywords) {
			item.Modality = sp.modality
			st := sp.name
			item.ServiceType = &st
			break
		}
	}

	for _, br := range bodyRegionPatterns {
		if containsAny(lower, br.keywords) {
			name, group := br.name, br.group
			item.BodyRegion = &name
			item.BodyGroup = &group
			break
		}
	}

	for _, lp := range lateralityPatterns {
		if containsAny(lower, lp.keywords) {
			lat := lp.value
			item.Laterality = &lat
			break
		}
	}

	if strings.Contains(lower, "with contrast") || strings.Contains(lower, "w/ contrast") || strings.Contains(lower, "w/contrast") {
		item.WithContrast = true
	}

	if m := quantityRe.FindStringSubmatch(lower); m != nil {
		qty := m[1]
		if qty == "" {
			qty = m[2]
		}
		if qty != "" {
			if n, err := strconv.Atoi(qty); err == nil && n > 0 {
				item.Quantity = n
			}
		}
	}

	return item
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// deriveProcedureCode looks up candidate codes for the item's modality and
// takes the first. Additional matches are reported as warnings so a
// reviewer can see the alternatives that also qualified.
func (p *Parser) deriveProcedureCode(ctx context.Context, item *LineItem, res *ParseResult) error {
	if p.procedures == nil {
		return nil
	}
	serviceTypes, ok := modalityServiceTypes[item.Modality]
	if !ok {
		return nil
	}
	var contrast *bool
	if item.Modality == ModalityImaging {
		c := item.WithContrast
		contrast = &c
	}
	codes, err := p.procedures.ProceduresForServiceTypes(ctx, serviceTypes, contrast)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}
	first := codes[0]
	code, desc := first.Code, first.Description
	item.ProcedureCode = &code
	item.ProcedureDesc = &desc
	if len(codes) > 1 {
		alts := make([]string, 0, maxAlternateCodes)
		for _, c := range codes[1:] {
			alts = append(alts, c.Code)
			if len(alts) == maxAlternateCodes {
				break
			}
		}
		res.Warnings = append(res.Warnings,
			"line "+strconv.Itoa(item.LineNumber)+": alternate procedure codes also matched: "+strings.Join(alts, ", "))
	}
	return nil
}

// FallbackItem wraps the whole unparseable text as a single line item
// flagged for review.
func FallbackItem(serviceText string) LineItem {
	return LineItem{
		LineNumber:         1,
		ServiceDescription: strings.TrimSpace(serviceText),
		Modality:           ModalityOther,
		Quantity:           1,
		Status:             LineItemPending,
		Confidence:         0,
		Source:             "extraction",
		NeedsReview:        true,
	}
}
