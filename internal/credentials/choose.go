package credentials

import (
	"fmt"
	"strconv"
	"strings"
)

// Prompter asks the operator a question
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
	Notify(message string)
}

// SelectInteractive selects entries like Select. Without a description in the
// filter the operator chooses one first; a nil prompter skips the choice.
func SelectInteractive(entries []Entry, filter Filter, p Prompter) ([]Entry, error) {
	if p != nil && filter.Description == "" {
		description, err := ChooseDescription(Descriptions(Select(entries, filter)), p)
		if err != nil {
			return nil, fmt.Errorf("failed to choose credentials: %w", err)
		}
		filter.Description = description
	}
	return Select(entries, filter), nil
}

// ChooseDescription lets the operator pick one of the descriptions, type a
// substring of their own, or keep everything. It returns the description
// filter to apply; an empty result keeps every entry.
func ChooseDescription(descriptions []string, p Prompter) (string, error) {
	if len(descriptions) == 0 {
		return "", nil
	}

	all := len(descriptions) + 1

	var b strings.Builder
	b.WriteString("Credential descriptions:\n")
	b.WriteString("  0. Enter a substring to match\n")
	for i, d := range descriptions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, d)
	}
	fmt.Fprintf(&b, "  %d. All credentials", all)
	p.Notify(b.String())

	label := fmt.Sprintf("Select description (0-%d)", all)
	for {
		answer, err := p.Prompt(label, false)
		if err != nil {
			return "", err
		}

		choice, err := strconv.Atoi(strings.TrimSpace(answer))
		switch {
		case err != nil || choice < 0 || choice > all:
			p.Notify(fmt.Sprintf("Enter a number between 0 and %d", all))
		case choice == 0:
			substring, err := p.Prompt("Substring", false)
			if err != nil {
				return "", err
			}
			if substring = strings.TrimSpace(substring); substring != "" {
				return substring, nil
			}
			p.Notify("Substring must not be empty")
		case choice == all:
			return "", nil
		default:
			return descriptions[choice-1], nil
		}
	}
}
