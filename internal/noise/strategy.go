package noise

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// FakeReport is one fabricated event-level report chosen by the response.
type FakeReport struct {
	TriggerData uint32
	WindowIndex int
}

// ReportTime is when the fake report is sent: the end of its window.
func (f FakeReport) ReportTime(sourceTime time.Time, w attribution.EventReportWindows) time.Time {
	return w.ReportTimeAtWindow(sourceTime, f.WindowIndex)
}

// Response is the randomized response drawn for a source. A noised
// response with no fake reports means the source is never attributed; a
// noised response with fake reports means it is falsely attributed.
type Response struct {
	Noised      bool
	FakeReports []FakeReport
}

// AttributionLogic maps the response onto the source's attribution logic.
func (r Response) AttributionLogic() attribution.AttributionLogic {
	switch {
	case !r.Noised:
		return attribution.AttributionLogicTruthful
	case len(r.FakeReports) == 0:
		return attribution.AttributionLogicNever
	default:
		return attribution.AttributionLogicFalsely
	}
}

// Strategy draws the randomized response for a source.
type Strategy interface {
	Respond(specs attribution.TriggerSpecs, p Params) (Response, error)
}

// Randomized answers with a uniformly random output with probability
// p.Rate and truthfully otherwise. Safe for concurrent use.
type Randomized struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomized seeds a ChaCha8 generator from the system CSPRNG.
func NewRandomized() *Randomized {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand.Read does not fail on supported platforms.
		panic(err)
	}
	return &Randomized{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeeded returns a Randomized strategy with a fixed seed, for
// reproducible runs.
func NewSeeded(seed uint64) *Randomized {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &Randomized{rng: rand.New(rand.NewChaCha8(s))}
}

func (r *Randomized) Respond(specs attribution.TriggerSpecs, p Params) (Response, error) {
	r.mu.Lock()
	flip := r.rng.Float64() < p.Rate
	var index uint64
	if flip && p.States > 0 {
		index = r.rng.Uint64N(p.States)
	}
	r.mu.Unlock()

	if !flip {
		return Response{}, nil
	}
	fakes, err := FakeReportsAtIndex(specs, index)
	if err != nil {
		return Response{}, err
	}
	return Response{Noised: true, FakeReports: fakes}, nil
}

// Fixed always returns the same response. The zero value is truthful.
type Fixed struct {
	Response Response
}

func (f Fixed) Respond(attribution.TriggerSpecs, Params) (Response, error) {
	return f.Response, nil
}

// Never returns a strategy that marks every source never attributed.
func Never() Fixed {
	return Fixed{Response: Response{Noised: true}}
}

// Falsely returns a strategy that marks every source falsely attributed
// with the given fake reports.
func Falsely(fakes ...FakeReport) Fixed {
	return Fixed{Response: Response{Noised: true, FakeReports: fakes}}
}

// FakeReportsAtIndex decodes output index of the stars-and-bars encoding:
// max-reports stars and cardinality*windows bars, where a star after the
// b-th bar (b > 0) is a report for window (b-1)/cardinality and trigger
// data (b-1)%cardinality of the sorted values.
func FakeReportsAtIndex(specs attribution.TriggerSpecs, index uint64) ([]FakeReport, error) {
	if _, err := specs.Single(); err != nil {
		return nil, err
	}
	data := specs.SortedTriggerData()
	cardinality := uint64(len(data))

	fakes := []FakeReport{}
	stars := kCombinationAtIndex(index, specs.MaxEventLevelReports)
	for _, bars := range barsPrecedingEachStar(stars) {
		if bars == 0 {
			continue
		}
		fakes = append(fakes, FakeReport{
			TriggerData: data[(bars-1)%cardinality],
			WindowIndex: int((bars - 1) / cardinality),
		})
	}
	return fakes, nil
}
