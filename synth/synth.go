package synth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/dgryski/go-wyhash"
	"pgregory.net/rand"
)

// TimestampFormat mirrors an ISO-8601 local timestamp with microseconds
const TimestampFormat = "2006-01-02T15:04:05.000000"

// seedSalt keeps seeded runs stable across releases. Don't change it.
const seedSalt = 2467825690

// A Level is the severity attached to a synthesized record
type Level string

const (
	Debug   Level = "DEBUG"
	Info    Level = "INFO"
	Warning Level = "WARNING"
	Error   Level = "ERROR"
)

// Levels is the fixed severity enumeration records are drawn from
var Levels = [...]Level{Debug, Info, Warning, Error}

// DefaultCorpus is the table of bodies that records are drawn from when no
// other corpus is supplied. It is read-only after init.
var DefaultCorpus = []string{
	"Query Execution Time:0.0022099018096924",
	"Configuration variable date.timezone is not set, guessed timezone America/Argentina/Buenos Aires. Please set date.timezone='America/Argentina/Buenos Aires in php.ini!",
	"Query:SELECT users.* FROM users WHERE users.id = '99bcc163-034c-ab4f-f1f3-5f7362bd45de' AND users.deleted=0 LIMIT 0,1",
	"SugarBean constructor error: Object has not fields in dictionary. Object name was: Audit",
	"Query:SELECT u1.first_name, u1.last_name from users u1, users u2 where u1.id = u2.reports_to_id AND u2.id = '99bcc163-034c-ab4f-f1f3-5f7362bd45de' and u1.deleted=0",
	"Query:SELECT gcoop_salesopportunity.* FROM gcoop_salesopportunity WHERE gcoop_salesopportunity.id = '35063c55-1c51-ff9a-473f-5f7610e7ea10' AND gcoop_salesopportunity.deleted=0 LIMIT 0,1",
	"SMTP server settings required first.",
	"Query:SHOW INDEX FROM aow_workflow",
	"Query:SHOW TABLES LIKE 'aow_processed'",
	"You're using 'root' as the web-server user. This should be avoided for security reasons. Review allowed_cron_users configuration in config.php.",
}

var ErrEmptyCorpus = errors.New("corpus must contain at least one non-empty body")

// A Record is one synthesized log line before rendering
type Record struct {
	Timestamp time.Time
	Level     Level
	Sequence  int
	Body      string
}

// String renders the record on a single line
func (r Record) String() string {
	return fmt.Sprintf("%s - [%s] - [%d]: %s",
		r.Timestamp.Format(TimestampFormat), r.Level, r.Sequence, r.Body,
	)
}

// A Synthesizer produces records from a fixed corpus. It is not safe for
// concurrent use; give each goroutine its own.
type Synthesizer struct {
	corpus []string
	rng    *rand.Rand
	now    func() time.Time
}

// NewSynthesizer validates the corpus and returns a Synthesizer. An empty
// seed gives a randomly seeded generator, anything else is hashed into a
// deterministic one.
func NewSynthesizer(corpus []string, seed string) (*Synthesizer, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}

	for i, body := range corpus {
		if body == "" {
			return nil, fmt.Errorf("corpus entry %d is empty: %w", i, ErrEmptyCorpus)
		}
	}

	// Copy so callers can't mutate the table out from under us
	table := make([]string, len(corpus))
	copy(table, corpus)

	return &Synthesizer{
		corpus: table,
		rng:    newRng(seed),
		now:    time.Now,
	}, nil
}

func newRng(seed string) *rand.Rand {
	if seed == "" {
		return rand.New()
	}
	return rand.New(wyhash.Hash([]byte(seed), seedSalt))
}

// Generate returns exactly n records numbered 1..n. Every record gets a
// freshly captured timestamp.
func (s *Synthesizer) Generate(n int) []Record {
	if n <= 0 {
		return []Record{}
	}

	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Timestamp: s.now(),
			Level:     Levels[s.rng.Intn(len(Levels))],
			Sequence:  i + 1,
			Body:      s.corpus[s.rng.Intn(len(s.corpus))],
		}
	}

	return records
}

// Render joins the rendered records with newlines, without a trailing one
func Render(records []Record) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.String())
	}
	return b.String()
}

// FakeCorpus returns DefaultCorpus extended with n generated phrases. The
// same seed always produces the same phrases.
func FakeCorpus(n int, seed string) []string {
	corpus := make([]string, 0, len(DefaultCorpus)+n)
	corpus = append(corpus, DefaultCorpus...)
	if n <= 0 {
		return corpus
	}

	var faker *gofakeit.Faker
	if seed == "" {
		faker = gofakeit.New(0)
	} else {
		faker = gofakeit.New(wyhash.Hash([]byte(seed), seedSalt))
	}

	for i := 0; i < n; i++ {
		corpus = append(corpus, faker.HackerPhrase())
	}

	return corpus
}
