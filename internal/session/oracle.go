package session

import "strconv"

// Oracle is the human operator. A discovery session suspends on its
// methods whenever it needs ground truth about the physical world; every
// probe verdict ultimately comes from here. Errors mean the operator is
// gone (closed stdin, dropped UI), which aborts the session.
type Oracle interface {
	// Confirm poses a yes/no question and blocks until answered.
	Confirm(question string) (bool, error)
	// Ask poses a free-form question with a suggested default and returns
	// the answer, which may be empty.
	Ask(question, defaultValue string) (string, error)
}

// LabelCounter numbers every printed test line so the operator can
// answer about one specific label even across rounds, retries, and
// devices. Sessions create their own unless the caller shares one
// across sessions.
type LabelCounter struct {
	n int
}

// Next returns the next unique label.
func (c *LabelCounter) Next() string {
	c.n++
	return "TEST " + strconv.Itoa(c.n)
}
