package telegram

import (
	"fmt"
	"strings"

	"kassa/pkg/kassa"
)

// Step names one state of the conversation machine. Guided mode walks
// StepObject..StepComment in order; bulk mode uses the two StepBulk* states.
type Step int

const (
	StepObject Step = iota
	StepKind
	StepCategory
	StepAmount
	StepPayment
	StepVAT
	StepPeriod
	StepEmployee
	StepComment
	stepGuidedDone

	StepBulkHeader
	StepBulkItems
)

// stepSpec is one row of the guided-mode transition table: the prompt for
// the state and the validator that applies the answer to the draft. A failed
// apply keeps the machine in the same state; a successful one advances it.
type stepSpec struct {
	name   string
	prompt func(cats kassa.Catalogs) string
	apply  func(t *kassa.Transaction, input string, cats kassa.Catalogs) error
}

var guidedSteps = map[Step]stepSpec{
	StepObject: {
		name: "object",
		prompt: func(cats kassa.Catalogs) string {
			return withOptions("🏠 Укажите объект:", cats.Objects)
		},
		apply: func(t *kassa.Transaction, v string, cats kassa.Catalogs) error {
			return kassa.ApplyObject(t, strings.TrimSpace(v), cats)
		},
	},
	StepKind: {
		name: "kind",
		prompt: func(cats kassa.Catalogs) string {
			return withOptions("📌 Укажите вид операции:", cats.Kinds)
		},
		apply: func(t *kassa.Transaction, v string, cats kassa.Catalogs) error {
			return kassa.ApplyKind(t, strings.TrimSpace(v), cats)
		},
	},
	StepCategory: {
		name: "category",
		prompt: func(cats kassa.Catalogs) string {
			return withOptions("📂 Укажите статью:", cats.Categories)
		},
		apply: func(t *kassa.Transaction, v string, cats kassa.Catalogs) error {
			return kassa.ApplyCategory(t, strings.TrimSpace(v), cats)
		},
	},
	StepAmount: {
		name: "amount",
		prompt: func(kassa.Catalogs) string {
			return "💰 Укажите сумму (например 10000 или 1500,50):"
		},
		apply: func(t *kassa.Transaction, v string, _ kassa.Catalogs) error {
			return kassa.ApplyAmount(t, strings.TrimSpace(v))
		},
	},
	StepPayment: {
		name: "payment",
		prompt: func(cats kassa.Catalogs) string {
			return withOptions("💳 Укажите способ оплаты:", cats.Payments)
		},
		apply: func(t *kassa.Transaction, v string, cats kassa.Catalogs) error {
			return kassa.ApplyPayment(t, strings.TrimSpace(v), cats)
		},
	},
	StepVAT: {
		name: "vat",
		prompt: func(kassa.Catalogs) string {
			return "🧾 НДС? (ДА / НЕТ):"
		},
		apply: func(t *kassa.Transaction, v string, _ kassa.Catalogs) error {
			return kassa.ApplyVAT(t, strings.TrimSpace(v))
		},
	},
	StepPeriod: {
		name: "period",
		prompt: func(kassa.Catalogs) string {
			return "📅 Укажите период (ГГГГ-ММ-1 или ГГГГ-ММ-2, например 2026-01-1):"
		},
		apply: func(t *kassa.Transaction, v string, _ kassa.Catalogs) error {
			return kassa.ApplyPeriod(t, strings.TrimSpace(v))
		},
	},
	StepEmployee: {
		name: "employee",
		prompt: func(kassa.Catalogs) string {
			return "👤 Укажите ответственного:"
		},
		apply: func(t *kassa.Transaction, v string, _ kassa.Catalogs) error {
			return kassa.ApplyEmployee(t, strings.TrimSpace(v))
		},
	},
	StepComment: {
		name: "comment",
		prompt: func(kassa.Catalogs) string {
			return "📝 Комментарий (или «-», чтобы оставить пустым):"
		},
		apply: func(t *kassa.Transaction, v string, _ kassa.Catalogs) error {
			v = strings.TrimSpace(v)
			if v == "-" {
				v = ""
			}
			return kassa.ApplyComment(t, v)
		},
	},
}

// guidedOrder fixes the walk order of the guided flow.
var guidedOrder = []Step{
	StepObject, StepKind, StepCategory, StepAmount, StepPayment,
	StepVAT, StepPeriod, StepEmployee, StepComment,
}

// advance applies the input to the session draft. It returns done=true after
// the last step succeeded, meaning the draft is complete and ready to
// commit. On a validation error the step does not change.
func (s *Session) advance(input string, cats kassa.Catalogs) (done bool, err error) {
	spec, ok := guidedSteps[s.Step]
	if !ok {
		return false, fmt.Errorf("no step spec for state %d", s.Step)
	}
	if err := spec.apply(&s.Draft, input, cats); err != nil {
		return false, err
	}

	next := s.Step + 1
	if next == stepGuidedDone {
		return true, nil
	}
	s.Step = next
	return false, nil
}

// back moves the session exactly one step back, keeping every collected
// field; the re-asked field is simply overwritten by the next answer. At the
// first step it is a no-op.
func (s *Session) back() {
	if s.Step > StepObject && s.Step < stepGuidedDone {
		s.Step--
	}
}

// prompt returns the question for the session's current step.
func (s *Session) prompt(cats kassa.Catalogs) string {
	if spec, ok := guidedSteps[s.Step]; ok {
		pos := 0
		for i, st := range guidedOrder {
			if st == s.Step {
				pos = i + 1
				break
			}
		}
		return fmt.Sprintf("Шаг %d из %d\n%s", pos, len(guidedOrder), spec.prompt(cats))
	}
	return ""
}

func withOptions(question string, options []string) string {
	if len(options) == 0 {
		return question
	}
	return question + "\nВарианты: " + strings.Join(options, ", ")
}
