// Package catalog defines the intake question catalog and the sequencer that
// walks it.
//
// The catalog is immutable after construction. Traversal order is the slice
// order, which is significant: NextQuestion walks it front to back, and
// SkipIf predicates may only consult answers to questions earlier in that
// order, so a single pass always terminates.
package catalog

import (
	"fmt"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// ValidateFunc checks a trimmed free-text answer against the current answer
// map and returns the normalized value to store, or a user-facing error
// message describing the expected format.
type ValidateFunc func(text string, answers map[string]string) (string, error)

// SkipFunc decides whether a question is skipped given the answers collected
// so far. It must only reference questions earlier in catalog order.
type SkipFunc func(answers map[string]string) bool

// QuestionDef describes one intake question. Defined once at startup and
// never mutated.
type QuestionDef struct {
	ID       string
	Prompt   string
	Kind     models.QuestionKind
	Options  []models.ChoiceOption // discrete-choice questions only
	Validate ValidateFunc          // free-text questions only
	SkipIf   SkipFunc              // optional
}

// OptionForToken returns the option matching the given token, if any.
func (q *QuestionDef) OptionForToken(token string) (models.ChoiceOption, bool) {
	for _, opt := range q.Options {
		if opt.Token == token {
			return opt, true
		}
	}
	return models.ChoiceOption{}, false
}

// Catalog is an ordered, immutable list of question definitions.
type Catalog struct {
	questions []QuestionDef
	byID      map[string]*QuestionDef
}

// NewCatalog validates the definitions and builds a catalog.
func NewCatalog(questions []QuestionDef) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, models.ErrEmptyCatalog
	}
	byID := make(map[string]*QuestionDef, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			return nil, models.ErrEmptyQuestionID
		}
		if _, dup := byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question ID %q", q.ID)
		}
		if !models.IsValidQuestionKind(q.Kind) {
			return nil, fmt.Errorf("question %q has invalid kind %q", q.ID, q.Kind)
		}
		if q.Kind == models.QuestionKindDiscreteChoice && len(q.Options) < 2 {
			return nil, fmt.Errorf("discrete-choice question %q needs at least 2 options", q.ID)
		}
		if q.Kind == models.QuestionKindFreeText && q.Validate == nil {
			return nil, fmt.Errorf("free-text question %q has no validator", q.ID)
		}
		byID[q.ID] = q
	}
	return &Catalog{questions: questions, byID: byID}, nil
}

// Len returns the number of questions in the catalog.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// ByID returns the question with the given ID, if present.
func (c *Catalog) ByID(id string) (*QuestionDef, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// NextQuestion returns the next unanswered, non-skipped question for the
// given answer map, or nil when every eligible question is answered. It is a
// pure function of the answers: replaying the same map always yields the
// same result. A nil return is the sole completion signal.
func (c *Catalog) NextQuestion(answers map[string]string) *QuestionDef {
	for i := range c.questions {
		q := &c.questions[i]
		if q.SkipIf != nil && q.SkipIf(answers) {
			continue
		}
		if _, answered := answers[q.ID]; !answered {
			return q
		}
	}
	return nil
}

// Question IDs of the default intake catalog.
const (
	QuestionName              = "name"
	QuestionNameReading       = "name_reading"
	QuestionPhone             = "phone"
	QuestionBirthYear         = "birth_year"
	QuestionBirthMonth        = "birth_month"
	QuestionBirthDay          = "birth_day"
	QuestionGender            = "gender"
	QuestionHeight            = "height"
	QuestionWeight            = "weight"
	QuestionHistoryGate       = "history_gate"
	QuestionHistoryDetails    = "history_details"
	QuestionMedicationGate    = "medication_gate"
	QuestionMedicationDetails = "medication_details"
	QuestionAllergyGate       = "allergy_gate"
	QuestionAllergyDetails    = "allergy_details"
)

// Choice tokens used by the default catalog.
const (
	TokenYes    = "yes"
	TokenNo     = "no"
	TokenMale   = "male"
	TokenFemale = "female"
)

// Plausibility bounds for the default catalog.
const (
	MinBirthYear = 1900
	MinHeightCm  = 100
	MaxHeightCm  = 250
	MinWeightKg  = 20
	MaxWeightKg  = 200
	PhoneDigits  = 11
)

// gatedBy skips a details question unless its gate was answered "yes".
func gatedBy(gateID string) SkipFunc {
	return func(answers map[string]string) bool {
		return answers[gateID] != TokenYes
	}
}

var yesNoOptions = []models.ChoiceOption{
	{Token: TokenYes, Label: "Yes"},
	{Token: TokenNo, Label: "No"},
}

// DefaultIntakeCatalog builds the standard patient intake question sequence.
func DefaultIntakeCatalog() (*Catalog, error) {
	return NewCatalog([]QuestionDef{
		{
			ID:       QuestionName,
			Prompt:   "Please enter your full name exactly as it appears on your insurance card.",
			Kind:     models.QuestionKindFreeText,
			Validate: NonEmptyText("Please enter your name."),
		},
		{
			ID:       QuestionNameReading,
			Prompt:   "Please enter the reading (pronunciation) of your name.",
			Kind:     models.QuestionKindFreeText,
			Validate: NonEmptyText("Please enter the reading of your name."),
		},
		{
			ID:       QuestionPhone,
			Prompt:   "Please enter your phone number without hyphens (11 digits).",
			Kind:     models.QuestionKindFreeText,
			Validate: FixedDigits(PhoneDigits, "Please enter your phone number as 11 digits without hyphens."),
		},
		{
			ID:       QuestionBirthYear,
			Prompt:   "Please enter your birth year (e.g. 1985).",
			Kind:     models.QuestionKindFreeText,
			Validate: BirthYear(),
		},
		{
			ID:       QuestionBirthMonth,
			Prompt:   "Please enter your birth month as a number from 1 to 12.",
			Kind:     models.QuestionKindFreeText,
			Validate: BirthMonth(),
		},
		{
			ID:       QuestionBirthDay,
			Prompt:   "Please enter your birth day as a number.",
			Kind:     models.QuestionKindFreeText,
			Validate: BirthDay(QuestionBirthYear, QuestionBirthMonth),
		},
		{
			ID:     QuestionGender,
			Prompt: "Please select your gender.",
			Kind:   models.QuestionKindDiscreteChoice,
			Options: []models.ChoiceOption{
				{Token: TokenMale, Label: "Male"},
				{Token: TokenFemale, Label: "Female"},
			},
		},
		{
			ID:       QuestionHeight,
			Prompt:   "Please enter your height in cm, numbers only.",
			Kind:     models.QuestionKindFreeText,
			Validate: BoundedInt(MinHeightCm, MaxHeightCm, "Please enter your height in cm as a number between 100 and 250."),
		},
		{
			ID:       QuestionWeight,
			Prompt:   "Please enter your weight in kg, numbers only.",
			Kind:     models.QuestionKindFreeText,
			Validate: BoundedInt(MinWeightKg, MaxWeightKg, "Please enter your weight in kg as a number between 20 and 200."),
		},
		{
			ID:      QuestionHistoryGate,
			Prompt:  "Have you been treated for any other illness in the past?",
			Kind:    models.QuestionKindDiscreteChoice,
			Options: yesNoOptions,
		},
		{
			ID:       QuestionHistoryDetails,
			Prompt:   "Please describe the illness and when you were treated.",
			Kind:     models.QuestionKindFreeText,
			Validate: NonEmptyText("Please describe your past illness."),
			SkipIf:   gatedBy(QuestionHistoryGate),
		},
		{
			ID:      QuestionMedicationGate,
			Prompt:  "Are you currently taking any medication?",
			Kind:    models.QuestionKindDiscreteChoice,
			Options: yesNoOptions,
		},
		{
			ID:       QuestionMedicationDetails,
			Prompt:   "Please list the medications you are taking.",
			Kind:     models.QuestionKindFreeText,
			Validate: NonEmptyText("Please list your medications."),
			SkipIf:   gatedBy(QuestionMedicationGate),
		},
		{
			ID:      QuestionAllergyGate,
			Prompt:  "Do you have any allergies?",
			Kind:    models.QuestionKindDiscreteChoice,
			Options: yesNoOptions,
		},
		{
			ID:       QuestionAllergyDetails,
			Prompt:   "Please describe your allergies.",
			Kind:     models.QuestionKindFreeText,
			Validate: NonEmptyText("Please describe your allergies."),
			SkipIf:   gatedBy(QuestionAllergyGate),
		},
	})
}

// DeriveBirthDate combines the three birth sub-answers into one calendar
// date. It returns false until all three parts are present and parseable.
func DeriveBirthDate(answers map[string]string) (time.Time, bool) {
	year, okY := parseIntAnswer(answers[QuestionBirthYear])
	month, okM := parseIntAnswer(answers[QuestionBirthMonth])
	day, okD := parseIntAnswer(answers[QuestionBirthDay])
	if !okY || !okM || !okD {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > DaysInMonth(year, month) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
