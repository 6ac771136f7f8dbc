package models

// DocumentIsCompleted reports whether processing finished successfully.
func DocumentIsCompleted(d *Document) bool {
	return d != nil && d.Status == DocumentCompleted
}

// DocumentIsFailed reports whether processing failed.
func DocumentIsFailed(d *Document) bool {
	return d != nil && d.Status == DocumentFailed
}

// ProviderIsActive reports whether a provider can serve requests.
func ProviderIsActive(p *Provider) bool {
	return p != nil && p.Status == ProviderActive
}

// AttemptIsCompleted reports whether an attempt has left in_progress.
func AttemptIsCompleted(a *QuizAttempt) bool {
	return a != nil && (a.Status == AttemptSubmitted || a.Status == AttemptGraded)
}

// AttemptIsGraded reports whether an attempt reached graded.
func AttemptIsGraded(a *QuizAttempt) bool {
	return a != nil && a.Status == AttemptGraded
}

// CorrectAnswers counts answers marked correct.
func CorrectAnswers(a *QuizAttempt) int {
	if a == nil {
		return 0
	}
	n := 0
	for _, ans := range a.Answers {
		if ans.IsCorrect {
			n++
		}
	}
	return n
}

// TotalAnswered counts answered questions.
func TotalAnswered(a *QuizAttempt) int {
	if a == nil {
		return 0
	}
	return len(a.Answers)
}

// Accuracy is the percentage of answered questions that are correct, 0 when none answered.
func Accuracy(a *QuizAttempt) float64 {
	total := TotalAnswered(a)
	if total == 0 {
		return 0
	}
	return float64(CorrectAnswers(a)) / float64(total) * 100
}

// MaskAPIKey hides all but the last four characters of a key.
func MaskAPIKey(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return "****" + key[len(key)-4:]
}
