package recognizer

import (
	"encoding/base64"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/features"
	"github.com/example/scandish/internal/ppm"
)

const greyPPM = "P3\n2 2\n255\n200 200 200 200 200 200 200 200 200 200 200 200\n"

func greyFingerprint(t *testing.T) features.Fingerprint {
	t.Helper()
	grid, err := ppm.Decode([]byte(greyPPM))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fp, err := features.Extract(grid)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return fp
}

func kivikCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Entry{{
		Brand:       "IKEA",
		Model:       "KIVIK",
		Name:        "Kivik sofa",
		Description: "Three-seat sofa",
		Keywords:    []string{"kivik"},
	}})
}

func TestRecognizeKeywordMatch(t *testing.T) {
	r := New(kivikCatalog())

	res, err := r.Recognize(Query{ImageURL: "https://cdn/x/KIVIK-sofa.jpg"})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if res == nil {
		t.Fatal("expected a match")
	}
	if res.Method != MethodKeywords || res.Model != "KIVIK" || res.Brand != "IKEA" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %v", res.Confidence)
	}
	if res.Distance != nil {
		t.Fatalf("keyword match must not report a distance")
	}
}

func TestRecognizeNoMatch(t *testing.T) {
	r := New(kivikCatalog())

	res, err := r.Recognize(Query{ImageURL: "https://cdn/x/chair.jpg"})
	if err != nil || res != nil {
		t.Fatalf("expected nil result, got %+v, %v", res, err)
	}
	res, err = r.Recognize(Query{})
	if err != nil || res != nil {
		t.Fatalf("expected nil result for empty query, got %+v, %v", res, err)
	}
}

func TestMatchByKeywordsScoresAndTies(t *testing.T) {
	c := catalog.New([]catalog.Entry{
		{Model: "FIRST", Keywords: []string{"oak"}},
		{Model: "SECOND", Keywords: []string{"table"}},
		{Model: "THIRD", Keywords: []string{"oak", "table", "lisabo", "dining"}},
	})
	r := New(c)

	res := r.MatchByKeywords("https://shop/oak-table.png")
	if res == nil || res.Model != "THIRD" {
		t.Fatalf("expected THIRD with score 2, got %+v", res)
	}
	if math.Abs(res.Confidence-0.8) > 1e-9 {
		t.Fatalf("expected confidence 0.8, got %v", res.Confidence)
	}

	res = r.MatchByKeywords("https://shop/lisabo-oak-dining-table.png")
	if res == nil || res.Confidence != 0.9 {
		t.Fatalf("expected confidence capped at 0.9, got %+v", res)
	}

	tie := New(catalog.New([]catalog.Entry{
		{Model: "FIRST", Keywords: []string{"oak"}},
		{Model: "SECOND", Keywords: []string{"oak"}},
	}))
	if res := tie.MatchByKeywords("OAK"); res == nil || res.Model != "FIRST" {
		t.Fatalf("expected first entry to win the tie, got %+v", res)
	}
}

func TestMatchByPPMPicksNearest(t *testing.T) {
	query := greyFingerprint(t)
	near := query
	near.GreyRatio = 0.8
	far := query
	far.GreyRatio = 0.1

	r := New(catalog.New([]catalog.Entry{
		{Model: "FAR", Fingerprint: far},
		{Model: "NEAR", Fingerprint: near},
	}))

	res, err := r.MatchByPPM(base64.StdEncoding.EncodeToString([]byte(greyPPM)))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res == nil || res.Model != "NEAR" || res.Method != MethodFeatures {
		t.Fatalf("unexpected result %+v", res)
	}
	want := math.Round((1-0.2/1.5)*1000) / 1000
	if res.Confidence != want {
		t.Fatalf("expected confidence %v, got %v", want, res.Confidence)
	}
	if res.Distance == nil || *res.Distance != 0.2 {
		t.Fatalf("expected distance 0.2, got %v", res.Distance)
	}
}

func TestMatchByPPMTieKeepsFirst(t *testing.T) {
	fp := greyFingerprint(t)
	r := New(catalog.New([]catalog.Entry{
		{Model: "A", Fingerprint: fp},
		{Model: "B", Fingerprint: fp},
	}))
	res, err := r.MatchByPPMData([]byte(greyPPM))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Model != "A" || res.Confidence != 1 || *res.Distance != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMatchByPPMAcceptsDataURL(t *testing.T) {
	r := New(catalog.New([]catalog.Entry{{Model: "A", Fingerprint: greyFingerprint(t)}}))
	url := "data:image/x-portable-pixmap;base64," + base64.StdEncoding.EncodeToString([]byte(greyPPM))

	res, err := r.Recognize(Query{ImageURL: "https://cdn/unknown.jpg", ImageBase64: url})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if res == nil || res.Model != "A" || res.Method != MethodFeatures {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestKeywordMatchWinsOverVisual(t *testing.T) {
	c := catalog.New([]catalog.Entry{
		{Model: "KIVIK", Keywords: []string{"kivik"}},
		{Model: "GREY", Fingerprint: greyFingerprint(t)},
	})
	res, err := New(c).Recognize(Query{
		ImageURL:    "kivik.jpg",
		ImageBase64: base64.StdEncoding.EncodeToString([]byte(greyPPM)),
	})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if res.Model != "KIVIK" || res.Method != MethodKeywords {
		t.Fatalf("expected keyword result, got %+v", res)
	}
}

func TestRecognizeErrorKinds(t *testing.T) {
	r := New(kivikCatalog())

	_, err := r.Recognize(Query{ImageBase64: "%%%not-base64%%%"})
	if !errors.Is(err, ErrInvalidPayload) || Kind(err) != KindInvalidPayload {
		t.Fatalf("expected invalid payload, got %v (%v)", err, Kind(err))
	}

	p6 := base64.StdEncoding.EncodeToString([]byte("P6 1 1 255 0 0 0"))
	_, err = r.Recognize(Query{ImageBase64: p6})
	if Kind(err) != KindFormat {
		t.Fatalf("expected format error, got %v (%v)", err, Kind(err))
	}

	_, err = r.Recognize(Query{ImageData: []byte("P3 2 2 255 1 2 3")})
	if Kind(err) != KindFormat {
		t.Fatalf("expected format error for truncated upload, got %v", err)
	}

	if Kind(features.ErrEmptyImage) != KindEmptyImage {
		t.Fatalf("expected empty image kind")
	}
	if Kind(&catalog.LoadError{Path: "x", Err: &ppm.FormatError{Reason: "bad"}}) != KindCatalogLoad {
		t.Fatalf("catalog load errors must classify as such even when wrapping a format error")
	}
}

func TestMatchByPPMEmptyCatalog(t *testing.T) {
	res, err := New(catalog.New(nil)).MatchByPPMData([]byte(greyPPM))
	if err != nil || res != nil {
		t.Fatalf("expected no match, got %+v, %v", res, err)
	}
}

func TestRecognizeConcurrent(t *testing.T) {
	r := New(kivikCatalog())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Recognize(Query{ImageURL: "kivik"})
			if err != nil || res == nil {
				t.Errorf("unexpected %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()
}

func TestDecodeBase64Unpadded(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString([]byte(greyPPM))
	data, err := decodeBase64(raw[:20] + "\n" + raw[20:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(data) != greyPPM {
		t.Fatalf("unexpected payload %q", data)
	}
}
