package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/biprop/internal/adapters/bazi"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
	"github.com/okian/biprop/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

const fixtureYAML = `title: fixture
districts:
  - {id: WK1, seats: 6}
  - {id: WK2, seats: 5}
  - {id: WK3, seats: 4}
parties:
  - {id: A}
  - {id: B}
  - {id: C}
votes:
  A: {WK1: 14400, WK2: 10100, WK3: 6400}
  B: {WK1: 12000, WK2: 10000, WK3: 6000}
  C: {WK1: 4500, WK2: 9900, WK3: 5000}
`

const fixtureBAZI = `=TITEL= fixture
=METHOD= DivStd
=OUTPUT= vertikal,
=INPUT= Listengruppe/Parteist.
=DISTRICTOPTION= biprop
=DISTRIKT= WK1
=MANDATE= 6
=DATEN=
A 14400
B 12000
C 4500
=DISTRIKT= WK2
=MANDATE= 5
=DATEN=
A 10100
B 10000
C 9900
=DISTRIKT= WK3
=MANDATE= 4
=DATEN=
A 6400
B 6000
C 5000
=END=`

var fixtureSeats = [][]int{{3, 2, 1}, {1, 2, 2}, {2, 1, 1}}

func init() {
	_ = logger.Init(logger.WithWriter(&bytes.Buffer{}))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newConfig(input string) *Config {
	return &Config{
		Input:   input,
		Format:  FormatAuto,
		Output:  OutputTable,
		Charset: bazi.CharsetUTF8,
		Timeout: time.Second,
	}
}

// tableRow returns the fields of the first table line starting with label.
func tableRow(out, label string) []string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == label {
			return fields
		}
	}
	return nil
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	Convey("Given a YAML election file", t, func() {
		cfg := newConfig(writeFile(t, "election.yaml", fixtureYAML))
		var out bytes.Buffer

		Convey("When printed as a table", func() {
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			Convey("Then every district row carries its seats and total", func() {
				text := out.String()
				So(text, ShouldStartWith, "fixture\n")
				So(tableRow(text, "District"), ShouldResemble, []string{"District", "A", "B", "C", "Seats", "Divisor"})
				So(tableRow(text, "WK1")[1:5], ShouldResemble, []string{"3", "2", "1", "6"})
				So(tableRow(text, "WK2")[1:5], ShouldResemble, []string{"1", "2", "2", "5"})
				So(tableRow(text, "Total"), ShouldResemble, []string{"Total", "6", "5", "4", "15"})
				So(tableRow(text, "Divisor"), ShouldHaveLength, 4)
				So(text, ShouldContainSubstring, "converged after")
			})
		})

		Convey("When printed as JSON", func() {
			cfg.Output = OutputJSON
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			var got struct {
				Title string           `json:"title"`
				Seats model.SeatMatrix `json:"seats"`
				Upper *struct {
					Seats []int `json:"seats"`
				} `json:"upper"`
			}
			So(json.Unmarshal(out.Bytes(), &got), ShouldBeNil)
			So(got.Title, ShouldEqual, "fixture")
			So(got.Seats.Cells, ShouldResemble, fixtureSeats)
			So(got.Upper, ShouldNotBeNil)
			So(got.Upper.Seats, ShouldResemble, []int{6, 5, 4})
		})

		Convey("When printed as YAML", func() {
			cfg.Output = OutputYAML
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			var got struct {
				Seats struct {
					Districts []string `yaml:"districts"`
					Cells     [][]int  `yaml:"cells"`
				} `yaml:"seats"`
				Targets struct {
					Party []int `yaml:"party"`
				} `yaml:"targets"`
			}
			So(yaml.Unmarshal(out.Bytes(), &got), ShouldBeNil)
			So(got.Seats.Districts, ShouldResemble, []string{"WK1", "WK2", "WK3"})
			So(got.Seats.Cells, ShouldResemble, fixtureSeats)
			So(got.Targets.Party, ShouldResemble, []int{6, 5, 4})
			So(out.String(), ShouldContainSubstring, "- [3, 2, 1]")
		})

		Convey("When exported as BAZI", func() {
			cfg.Output = OutputBAZI
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)
			So(out.String(), ShouldEqual, fixtureBAZI)
		})

		Convey("When only the upper apportionment is asked for", func() {
			cfg.UpperOnly = true
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			text := out.String()
			So(tableRow(text, "A"), ShouldResemble, []string{"A", "6020", "6"})
			So(tableRow(text, "Total"), ShouldResemble, []string{"Total", "15"})
			So(text, ShouldContainSubstring, "divisor ")
			So(text, ShouldNotContainSubstring, "unbalanced")
		})

		Convey("When checked against matching published seats", func() {
			cfg.Reference = writeFile(t, "published.yaml", `
WK1: {A: 3, B: 2, C: 1}
WK2: {A: 1, B: 2, C: 2}
WK3: {A: 2, B: 1, C: 1}
`)
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)
		})

		Convey("When checked against different published seats", func() {
			cfg.Reference = writeFile(t, "published.yaml", `
WK1: {A: 4, B: 1, C: 1}
WK2: {A: 1, B: 2, C: 2}
WK3: {A: 2, B: 1, C: 1}
`)
			err := Run(ctx, cfg, nil, &out)
			So(errors.Is(err, bazi.ErrSeatsMismatched), ShouldBeTrue)

			var mismatch *bazi.MismatchError
			So(errors.As(err, &mismatch), ShouldBeTrue)
			So(mismatch.Cells, ShouldHaveLength, 2)
		})
	})

	Convey("Given a JSON election file", t, func() {
		e := model.Election{
			Title:     "json",
			Districts: []model.District{{ID: "N.1", Seats: 2}},
			Parties:   []model.Party{{ID: "X"}, {ID: "Y"}},
			Votes:     map[string]map[string]int64{"X": {"N.1": 70}, "Y": {"N.1": 30}},
		}
		data, err := json.Marshal(e)
		So(err, ShouldBeNil)
		cfg := newConfig(writeFile(t, "election.json", string(data)))
		cfg.Output = OutputJSON

		Convey("Then dotted IDs survive loading", func() {
			var out bytes.Buffer
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			var got struct {
				Seats model.SeatMatrix `json:"seats"`
			}
			So(json.Unmarshal(out.Bytes(), &got), ShouldBeNil)
			So(got.Seats.Districts, ShouldResemble, []string{"N.1"})
			So(got.Seats.Cells, ShouldResemble, [][]int{{1, 1}})
		})
	})

	Convey("Given a BAZI block on stdin", t, func() {
		cfg := newConfig("-")
		cfg.Format = FormatBAZI
		cfg.Output = OutputJSON
		var out bytes.Buffer

		So(Run(ctx, cfg, strings.NewReader(fixtureBAZI), &out), ShouldBeNil)

		var got struct {
			Seats model.SeatMatrix `json:"seats"`
		}
		So(json.Unmarshal(out.Bytes(), &got), ShouldBeNil)
		So(got.Seats.Cells, ShouldResemble, fixtureSeats)
	})

	Convey("Given unusable input", t, func() {
		var out bytes.Buffer

		Convey("A missing file fails to load", func() {
			err := Run(ctx, newConfig(filepath.Join(t.TempDir(), "missing.yaml")), nil, &out)
			So(errors.Is(err, ErrLoadInput), ShouldBeTrue)
		})

		Convey("A malformed BAZI block fails to load", func() {
			cfg := newConfig(writeFile(t, "broken.bazi", "=TITEL= x\n=MANDATE= two\n"))
			So(errors.Is(Run(ctx, cfg, nil, &out), ErrLoadInput), ShouldBeTrue)
		})

		Convey("An election without seats is rejected by the engine", func() {
			cfg := newConfig(writeFile(t, "empty.yaml", "title: empty\n"))
			err := Run(ctx, cfg, nil, &out)
			So(err, ShouldNotBeNil)
			So(out.Len(), ShouldEqual, 0)
		})
	})
}

func TestRunRemote(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service computing apportionments", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var e model.Election
			if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			res, err := apportion.NewEngine().Run(r.Context(), e)
			if err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(remoteError{Code: apportion.KindOf(err), Message: err.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(remoteApportionment{
				Seats:      res.Seats,
				Divisors:   res.State,
				Targets:    res.Targets,
				Iterations: res.Iterations,
				Stats:      res.Stats,
				Upper:      res.Upper,
			})
		}))
		Reset(srv.Close)

		cfg := newConfig(writeFile(t, "election.yaml", fixtureYAML))
		cfg.URL = srv.URL + "/"
		cfg.Output = OutputJSON
		var out bytes.Buffer

		Convey("When the election apportions", func() {
			So(Run(ctx, cfg, nil, &out), ShouldBeNil)

			var got struct {
				Seats model.SeatMatrix `json:"seats"`
			}
			So(json.Unmarshal(out.Bytes(), &got), ShouldBeNil)
			So(got.Seats.Cells, ShouldResemble, fixtureSeats)
		})

		Convey("When the service rejects the election", func() {
			cfg.Input = writeFile(t, "zero.yaml", `
districts:
  - {id: WK1, seats: 1}
parties:
  - {id: A}
votes:
  A: {WK1: 0}
`)
			err := Run(ctx, cfg, nil, &out)
			So(errors.Is(err, ErrRemote), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "422")
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Given valid options", t, func() {
		cfg := newConfig("election.yaml")
		So(cfg.Validate(), ShouldBeNil)

		Convey("Unknown formats are rejected", func() {
			cfg.Format = "xml"
			cfg.Output = "csv"
			err := cfg.Validate()
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "format")
			So(err.Error(), ShouldContainSubstring, "output")
		})

		Convey("Unknown charsets are rejected", func() {
			cfg.Charset = "ebcdic"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Upper only cannot be verified", func() {
			cfg.UpperOnly = true
			cfg.Reference = "published.yaml"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("BAZI export computes nothing to verify", func() {
			cfg.Output = OutputBAZI
			cfg.Reference = "published.yaml"
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Input is required", func() {
			cfg.Input = ""
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestDetectFormat(t *testing.T) {
	Convey("Extensions decide first", t, func() {
		So(detectFormat("a.yml", nil), ShouldEqual, FormatYAML)
		So(detectFormat("a.JSON", nil), ShouldEqual, FormatJSON)
		So(detectFormat("a.bazi", nil), ShouldEqual, FormatBAZI)
	})

	Convey("Content decides otherwise", t, func() {
		So(detectFormat("-", []byte("\n=TITEL= x\n")), ShouldEqual, FormatBAZI)
		So(detectFormat("-", []byte("title: x\n")), ShouldEqual, FormatYAML)
	})
}
