// Package intake provides the finalizer that closes out completed sessions.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// finalize renders the summary, notifies the external channel, archives the
// record, and atomically moves the user from the session store into the
// completed registry. Caller holds the user lock, so finalization for a user
// runs at most once.
func (e *Engine) finalize(ctx context.Context, userID string, answers map[string]string) error {
	now := e.now()
	summary := RenderSummary(answers, now)
	slog.Info("Engine.finalize: intake complete", "userID", userID)

	// Notifier and archive failures degrade the delivery channels, never the
	// user-facing completion.
	if e.notifier != nil {
		name := answers[catalog.QuestionName]
		subject := fmt.Sprintf("Intake completed: %s", name)
		notifyCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		if err := e.notifier.Notify(notifyCtx, userID, subject, summary); err != nil {
			slog.Error("Engine.finalize: notifier failed", "error", err, "userID", userID)
		}
		cancel()
	}

	rec := models.CompletedRecord{
		UserID:      userID,
		FinishedAt:  now,
		SummaryText: summary,
	}
	if err := e.archive.RecordIntake(rec); err != nil {
		slog.Error("Engine.finalize: archive write failed", "error", err, "userID", userID)
	}

	e.store.Complete(userID, rec)

	return e.reply(ctx, userID, msgCompleted)
}

// summaryOrder fixes the display order of the summary, independent of the
// order answers were collected in.
var summaryOrder = []string{
	catalog.QuestionName,
	catalog.QuestionPhone,
	catalog.QuestionBirthYear,
	catalog.QuestionGender,
	catalog.QuestionHeight,
	catalog.QuestionWeight,
	catalog.QuestionHistoryGate,
	catalog.QuestionMedicationGate,
	catalog.QuestionAllergyGate,
}

// RenderSummary renders the human-readable intake summary in fixed display
// order, with per-field formatting: units appended for height and weight,
// name and reading combined on one line, and the birth date annotated with
// the age computed against today.
func RenderSummary(answers map[string]string, today time.Time) string {
	var b strings.Builder
	b.WriteString("Intake summary\n")
	for _, id := range summaryOrder {
		switch id {
		case catalog.QuestionName:
			line := answers[catalog.QuestionName]
			if reading := answers[catalog.QuestionNameReading]; reading != "" {
				line = fmt.Sprintf("%s (%s)", line, reading)
			}
			fmt.Fprintf(&b, "Name: %s\n", line)
		case catalog.QuestionPhone:
			fmt.Fprintf(&b, "Phone: %s\n", answers[catalog.QuestionPhone])
		case catalog.QuestionBirthYear:
			if birth, ok := catalog.DeriveBirthDate(answers); ok {
				age := ComputeAge(birth, today)
				fmt.Fprintf(&b, "Birth date: %04d/%02d/%02d (age %d)\n",
					birth.Year(), int(birth.Month()), birth.Day(), age)
			}
		case catalog.QuestionGender:
			fmt.Fprintf(&b, "Gender: %s\n", genderLabel(answers[catalog.QuestionGender]))
		case catalog.QuestionHeight:
			fmt.Fprintf(&b, "Height: %s cm\n", answers[catalog.QuestionHeight])
		case catalog.QuestionWeight:
			fmt.Fprintf(&b, "Weight: %s kg\n", answers[catalog.QuestionWeight])
		case catalog.QuestionHistoryGate:
			writeGateLine(&b, "Past illness", answers, catalog.QuestionHistoryGate, catalog.QuestionHistoryDetails)
		case catalog.QuestionMedicationGate:
			writeGateLine(&b, "Medication", answers, catalog.QuestionMedicationGate, catalog.QuestionMedicationDetails)
		case catalog.QuestionAllergyGate:
			writeGateLine(&b, "Allergies", answers, catalog.QuestionAllergyGate, catalog.QuestionAllergyDetails)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ComputeAge returns the age in whole years at the given date. The age is
// one less until the birthday has occurred in the current year: if today's
// (month, day) precedes the birth (month, day), one year is subtracted.
func ComputeAge(birth, today time.Time) int {
	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() ||
		(today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	return age
}

func genderLabel(token string) string {
	switch token {
	case catalog.TokenMale:
		return "Male"
	case catalog.TokenFemale:
		return "Female"
	default:
		return token
	}
}

func writeGateLine(b *strings.Builder, label string, answers map[string]string, gateID, detailsID string) {
	if answers[gateID] == catalog.TokenYes {
		fmt.Fprintf(b, "%s: Yes (%s)\n", label, answers[detailsID])
		return
	}
	fmt.Fprintf(b, "%s: No\n", label)
}
