// Package catalog provides the answer validators used by the intake catalog.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NonEmptyText accepts any non-empty text and stores it trimmed.
func NonEmptyText(errMsg string) ValidateFunc {
	return func(text string, _ map[string]string) (string, error) {
		text = strings.TrimSpace(text)
		if text == "" {
			return "", errors.New(errMsg)
		}
		return text, nil
	}
}

// FixedDigits accepts a string of exactly n digits.
func FixedDigits(n int, errMsg string) ValidateFunc {
	return func(text string, _ map[string]string) (string, error) {
		text = strings.TrimSpace(text)
		if len(text) != n || !isDigits(text) {
			return "", errors.New(errMsg)
		}
		return text, nil
	}
}

// BoundedInt accepts an integer within [min, max] inclusive.
func BoundedInt(min, max int, errMsg string) ValidateFunc {
	return func(text string, _ map[string]string) (string, error) {
		v, ok := parseIntAnswer(text)
		if !ok || v < min || v > max {
			return "", errors.New(errMsg)
		}
		return strconv.Itoa(v), nil
	}
}

// BirthYear accepts a year between MinBirthYear and the current year.
func BirthYear() ValidateFunc {
	return func(text string, _ map[string]string) (string, error) {
		v, ok := parseIntAnswer(text)
		maxYear := time.Now().Year()
		if !ok || v < MinBirthYear || v > maxYear {
			return "", fmt.Errorf("Please enter your birth year as a number between %d and %d.", MinBirthYear, maxYear)
		}
		return strconv.Itoa(v), nil
	}
}

// BirthMonth accepts a month from 1 to 12.
func BirthMonth() ValidateFunc {
	return func(text string, _ map[string]string) (string, error) {
		v, ok := parseIntAnswer(text)
		if !ok || v < 1 || v > 12 {
			return "", errors.New("Please enter your birth month as a number from 1 to 12.")
		}
		return strconv.Itoa(v), nil
	}
}

// BirthDay accepts a day valid for the year and month already stored under
// the given question IDs. Impossible calendar dates (e.g. day 31 in a 30-day
// month, or February 30) are rejected.
func BirthDay(yearID, monthID string) ValidateFunc {
	return func(text string, answers map[string]string) (string, error) {
		day, ok := parseIntAnswer(text)
		if !ok || day < 1 {
			return "", errors.New("Please enter your birth day as a number.")
		}
		year, okY := parseIntAnswer(answers[yearID])
		month, okM := parseIntAnswer(answers[monthID])
		if !okY || !okM {
			// Day is asked after year and month in catalog order, so both
			// should be present; treat missing parts as a plain range check.
			if day > 31 {
				return "", errors.New("Please enter your birth day as a number.")
			}
			return strconv.Itoa(day), nil
		}
		if day > DaysInMonth(year, month) {
			return "", fmt.Errorf("Day %d is not valid for %d/%d. Please enter a valid day.", day, year, month)
		}
		return strconv.Itoa(day), nil
	}
}

// DaysInMonth returns the number of days in the given month, accounting for
// leap years.
func DaysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 0
	}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseIntAnswer parses a trimmed decimal answer, rejecting signs and
// non-digit characters.
func parseIntAnswer(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
