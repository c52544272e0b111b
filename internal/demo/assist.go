package demo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// script is the planned streaming response to one user message: tool
// tags, narration text, and optionally an action that needs the user's
// confirmation before it touches the ledger.
type script struct {
	tools   []string
	text    string
	confirm *pendingAction
	// fail, when set, ends the stream with an error event instead of
	// done. Only the "simulate ... error" intent sets it.
	fail string
}

// pendingAction is a side-effecting step parked until the user confirms
// or declines it.
type pendingAction struct {
	ID        string
	SessionID string
	Type      string
	Summary   string
	Details   map[string]string
	apply     func() (string, error)
}

// planner is the demo backend's scripted brain. It recognizes a handful
// of personal-finance intents by keyword and answers from the ledger;
// anything side-effecting comes back as a confirmation.
type planner struct {
	ledger *Ledger
}

func newPlanner(ledger *Ledger) *planner {
	return &planner{ledger: ledger}
}

var amountPattern = regexp.MustCompile(`\$?(\d+(?:\.\d{1,2})?)`)

func (a *planner) plan(sessionID, message string) script {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "simulate") && strings.Contains(lower, "error"):
		return script{
			text: "Proving the failure path works:",
			fail: "simulated backend failure",
		}

	case strings.Contains(lower, "net worth"):
		total := a.ledger.NetWorth()
		accounts := a.ledger.Accounts()
		return script{
			tools: []string{"get_accounts"},
			text:  fmt.Sprintf("Your net worth is $%s across %d accounts.", total.StringFixed(2), len(accounts)),
		}

	case containsAny(lower, "balance", "account"):
		var b strings.Builder
		b.WriteString("Here's where things stand. ")
		for _, acct := range a.ledger.Accounts() {
			fmt.Fprintf(&b, "%s: $%s. ", acct.Name, acct.Balance.StringFixed(2))
		}
		return script{tools: []string{"get_accounts"}, text: strings.TrimSpace(b.String())}

	case containsAny(lower, "spent", "spend", "transaction"):
		txns := a.ledger.Transactions(3)
		var b strings.Builder
		fmt.Fprintf(&b, "You've spent $%s in total. Recent activity: ", a.ledger.TotalSpend().StringFixed(2))
		for i, t := range txns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%s on %s", t.Amount.StringFixed(2), t.Category)
		}
		b.WriteString(".")
		return script{tools: []string{"get_transactions"}, text: b.String()}

	case containsAny(lower, "contribute", "move", "transfer", "put"):
		amount, ok := parseAmount(lower)
		if !ok {
			return script{text: "How much would you like to move? Try something like \"move $100 to my vacation goal\"."}
		}
		goal := a.matchGoal(lower)
		return script{
			tools: []string{"get_goals"},
			text:  fmt.Sprintf("I can move $%s from checking into %s.", amount.StringFixed(2), goal.Name),
			confirm: &pendingAction{
				ID:        uuid.New().String(),
				SessionID: sessionID,
				Type:      "contribute_to_goal",
				Summary:   fmt.Sprintf("Move $%s from Everyday Checking to %s", amount.StringFixed(2), goal.Name),
				Details: map[string]string{
					"amount": amount.StringFixed(2),
					"from":   "Everyday Checking",
					"goal":   goal.Name,
				},
				apply: func() (string, error) {
					updated, err := a.ledger.ContributeToGoal(goal.ID, amount)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("Moved $%s to %s. You're at $%s of $%s.",
						amount.StringFixed(2), updated.Name,
						updated.Current.StringFixed(2), updated.Target.StringFixed(2)), nil
				},
			},
		}

	case containsAny(lower, "add", "record", "log"):
		amount, ok := parseAmount(lower)
		if !ok {
			return script{text: "What amount should I record? Try \"record a $25 lunch\"."}
		}
		category := guessCategory(lower)
		return script{
			text: fmt.Sprintf("I'll record a $%s %s expense against checking.", amount.StringFixed(2), category),
			confirm: &pendingAction{
				ID:        uuid.New().String(),
				SessionID: sessionID,
				Type:      "add_transaction",
				Summary:   fmt.Sprintf("Record a $%s %s expense", amount.StringFixed(2), category),
				Details: map[string]string{
					"amount":   amount.StringFixed(2),
					"account":  "Everyday Checking",
					"category": category,
				},
				apply: func() (string, error) {
					txn, err := a.ledger.AddTransaction("checking", amount, category, message)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("Recorded a $%s %s expense.", txn.Amount.StringFixed(2), txn.Category), nil
				},
			},
		}

	case strings.Contains(lower, "goal"):
		var b strings.Builder
		b.WriteString("Your goals: ")
		for i, g := range a.ledger.Goals() {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s at $%s of $%s", g.Name, g.Current.StringFixed(2), g.Target.StringFixed(2))
		}
		b.WriteString(".")
		return script{tools: []string{"get_goals"}, text: b.String()}

	default:
		return script{text: "I can check balances, summarize spending, track goals, record expenses, and move money into goals. What would you like to do?"}
	}
}

// matchGoal picks the goal the message names, falling back to the first
// goal when none matches.
func (a *planner) matchGoal(lower string) Goal {
	goals := a.ledger.Goals()
	for _, g := range goals {
		if strings.Contains(lower, strings.ToLower(g.Name)) {
			return g
		}
		for _, part := range strings.Fields(strings.ToLower(g.Name)) {
			if strings.Contains(lower, part) {
				return g
			}
		}
	}
	return goals[0]
}

func parseAmount(lower string) (decimal.Decimal, bool) {
	m := amountPattern.FindStringSubmatch(lower)
	if m == nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(m[1])
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

func guessCategory(lower string) string {
	categories := map[string][]string{
		"dining":    {"lunch", "dinner", "coffee", "café", "restaurant"},
		"groceries": {"grocer", "market"},
		"transport": {"gas", "fuel", "train", "bus"},
		"utilities": {"electric", "water", "internet"},
	}
	for category, words := range categories {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return category
			}
		}
	}
	return "general"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// tokenize splits narration into small chunks so the stream behaves like
// a model emitting tokens rather than one big string.
func tokenize(text string) []string {
	words := strings.SplitAfter(text, " ")
	var out []string
	for i := 0; i < len(words); i += 3 {
		end := i + 3
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], ""))
	}
	return out
}
