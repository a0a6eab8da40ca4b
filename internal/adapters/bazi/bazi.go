// Package bazi reads and writes the input block of the BAZI reference
// calculator, so engine results can be cross-checked against it. The tool
// itself is never run from here.
package bazi

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Method is the rounding method the reference tool applies.
type Method string

// Known methods.
const (
	MethodDivStd Method = "DivStd"
	MethodDivAbr Method = "DivAbr"
)

// Output is a result layout of the reference tool.
type Output string

// Known outputs.
const (
	OutputVertical   Output = "vertikal"
	OutputHorizontal Output = "horizontal"
	OutputQuotient   Output = "quotient"
	OutputDivQuo     Output = "Div/Quo"
)

// DistrictOption selects how the tool combines districts.
type DistrictOption string

// Known district options.
const (
	DistrictSeparate DistrictOption = "separate"
	DistrictBiprop   DistrictOption = "biprop"
	DistrictNZZ      DistrictOption = "NZZ"
)

// Defaults written by NewDocument.
const (
	DefaultTitle = "Biproportional Allocation"
	InputLists   = "Listengruppe/Parteist."
)

// Section markers.
const (
	markTitle          = "TITEL"
	markMethod         = "METHOD"
	markOutput         = "OUTPUT"
	markInput          = "INPUT"
	markDistrictOption = "DISTRICTOPTION"
	markDistrict       = "DISTRIKT"
	markSeats          = "MANDATE"
	markData           = "DATEN"
	markEnd            = "END"
)

// PartyVotes is one data line of a district block.
type PartyVotes struct {
	Party string `json:"party"`
	Votes int64  `json:"votes"`
}

// DistrictBlock is one =DISTRIKT= section.
type DistrictBlock struct {
	Name  string       `json:"name"`
	Seats int          `json:"seats"`
	Votes []PartyVotes `json:"votes"`
}

// Document is a complete input block.
type Document struct {
	Title          string          `json:"title"`
	Method         Method          `json:"method"`
	Output         []Output        `json:"output"`
	Input          string          `json:"input"`
	DistrictOption DistrictOption  `json:"district_option"`
	Districts      []DistrictBlock `json:"districts"`
}

// NewDocument creates a document with the header the reference tool needs
// for a biproportional run.
func NewDocument(title string, districts []DistrictBlock) Document {
	if title == "" {
		title = DefaultTitle
	}
	return Document{
		Title:          title,
		Method:         MethodDivStd,
		Output:         []Output{OutputVertical},
		Input:          InputLists,
		DistrictOption: DistrictBiprop,
		Districts:      districts,
	}
}

// Encode writes doc in the reference tool's format.
func Encode(w io.Writer, doc Document, opts ...Option) error {
	c, err := newCodec(opts)
	if err != nil {
		return err
	}
	if err := doc.validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	writeMark(&buf, markTitle, doc.Title)
	writeMark(&buf, markMethod, string(doc.Method))
	var outputs strings.Builder
	for _, o := range doc.Output {
		outputs.WriteString(string(o))
		outputs.WriteByte(',')
	}
	writeMark(&buf, markOutput, outputs.String())
	writeMark(&buf, markInput, doc.Input)
	writeMark(&buf, markDistrictOption, string(doc.DistrictOption))
	for _, d := range doc.Districts {
		writeMark(&buf, markDistrict, d.Name)
		writeMark(&buf, markSeats, strconv.Itoa(d.Seats))
		buf.WriteString("=" + markData + "=\n")
		for _, pv := range d.Votes {
			buf.WriteString(pv.Party)
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatInt(pv.Votes, 10))
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("=" + markEnd + "=")

	out := buf.Bytes()
	if c.enc != nil {
		if out, err = c.enc.NewEncoder().Bytes(out); err != nil {
			return fmt.Errorf("bazi: encode %s: %w", c.charset, err)
		}
	}
	_, err = w.Write(out)
	return err
}

func writeMark(buf *bytes.Buffer, mark, value string) {
	buf.WriteString("=" + mark + "= " + value + "\n")
}

func (doc Document) validate() error {
	seen := make(map[string]struct{}, len(doc.Districts))
	for _, d := range doc.Districts {
		if err := checkName(d.Name); err != nil {
			return fmt.Errorf("district %q: %w", d.Name, err)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: district %q", ErrDuplicate, d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Seats < 0 {
			return fmt.Errorf("%w: district %q has %d seats", ErrInvalidNumber, d.Name, d.Seats)
		}
		parties := make(map[string]struct{}, len(d.Votes))
		for _, pv := range d.Votes {
			if err := checkName(pv.Party); err != nil {
				return fmt.Errorf("party %q in %q: %w", pv.Party, d.Name, err)
			}
			if _, dup := parties[pv.Party]; dup {
				return fmt.Errorf("%w: party %q in %q", ErrDuplicate, pv.Party, d.Name)
			}
			parties[pv.Party] = struct{}{}
			if pv.Votes < 0 {
				return fmt.Errorf("%w: party %q in %q has %d votes", ErrInvalidNumber, pv.Party, d.Name, pv.Votes)
			}
		}
	}
	return nil
}

func checkName(name string) error {
	switch {
	case strings.TrimSpace(name) != name || name == "":
		return ErrInvalidName
	case strings.HasPrefix(name, "="), strings.ContainsAny(name, "\r\n"):
		return ErrInvalidName
	}
	return nil
}

// Decode parses a document. Party names may contain spaces; the last field
// of a data line is the vote count.
func Decode(r io.Reader, opts ...Option) (Document, error) {
	c, err := newCodec(opts)
	if err != nil {
		return Document{}, err
	}
	if c.enc != nil {
		r = c.enc.NewDecoder().Reader(r)
	}

	var (
		doc     Document
		current = -1
		inData  bool
		line    int
	)
	fail := func(err error) (Document, error) {
		return Document{}, &LineError{Line: line, Err: err}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if !strings.HasPrefix(text, "=") {
			if current < 0 || !inData {
				return fail(fmt.Errorf("%w: %q", ErrUnexpectedLine, text))
			}
			pv, err := parseDataLine(text)
			if err != nil {
				return fail(err)
			}
			doc.Districts[current].Votes = append(doc.Districts[current].Votes, pv)
			continue
		}

		mark, value, ok := strings.Cut(text[1:], "=")
		if !ok {
			return fail(fmt.Errorf("%w: %q", ErrUnexpectedLine, text))
		}
		value = strings.TrimSpace(value)

		switch mark {
		case markTitle:
			doc.Title = value
		case markMethod:
			doc.Method = Method(value)
		case markOutput:
			doc.Output = parseOutputs(value)
		case markInput:
			doc.Input = value
		case markDistrictOption:
			doc.DistrictOption = DistrictOption(value)
		case markDistrict:
			doc.Districts = append(doc.Districts, DistrictBlock{Name: value})
			current = len(doc.Districts) - 1
			inData = false
		case markSeats:
			if current < 0 {
				return fail(fmt.Errorf("%w: =%s= outside a district", ErrUnexpectedLine, mark))
			}
			seats, err := strconv.Atoi(value)
			if err != nil {
				return fail(fmt.Errorf("%w: seats %q", ErrInvalidNumber, value))
			}
			doc.Districts[current].Seats = seats
		case markData:
			if current < 0 {
				return fail(fmt.Errorf("%w: =%s= outside a district", ErrUnexpectedLine, mark))
			}
			inData = true
		case markEnd:
			if err := doc.validate(); err != nil {
				return fail(err)
			}
			return doc, nil
		default:
			return fail(fmt.Errorf("%w: =%s=", ErrUnknownSection, mark))
		}
	}
	if err := sc.Err(); err != nil {
		return Document{}, fmt.Errorf("bazi: read: %w", err)
	}
	return Document{}, ErrUnterminated
}

func parseDataLine(text string) (PartyVotes, error) {
	idx := strings.LastIndexAny(text, " \t")
	if idx < 0 {
		return PartyVotes{}, fmt.Errorf("%w: %q has no vote count", ErrUnexpectedLine, text)
	}
	name := strings.TrimSpace(text[:idx])
	votes, err := strconv.ParseInt(text[idx+1:], 10, 64)
	if err != nil {
		return PartyVotes{}, fmt.Errorf("%w: votes %q", ErrInvalidNumber, text[idx+1:])
	}
	return PartyVotes{Party: name, Votes: votes}, nil
}

func parseOutputs(value string) []Output {
	var out []Output
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, Output(part))
		}
	}
	return out
}
