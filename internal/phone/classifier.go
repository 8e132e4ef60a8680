package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
	log "github.com/sirupsen/logrus"
)

type (
	// Classifier normalizes raw phone strings and decides whether they
	// belong to the configured target region.
	Classifier struct {
		targetRegion string
		callingCode  int
	}

	Result struct {
		Canonical    string
		Region       string
		CountryCode  int
		Valid        bool
		TargetRegion bool
	}
)

var cleaner = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

func NewClassifier(targetRegion string, callingCode int) *Classifier {
	return &Classifier{
		targetRegion: targetRegion,
		callingCode:  callingCode,
	}
}

// Classify never fails: anything unparseable comes back with Valid=false
// and the raw input echoed as Canonical.
func (c *Classifier) Classify(raw string) Result {
	cleaned := cleaner.Replace(strings.TrimSpace(raw))
	cc := strconv.Itoa(c.callingCode)

	// Contact payloads arrive in every national habit there is: leading
	// zero, bare subscriber number, calling code without the plus. All
	// of them must land on one E.164 string.
	switch {
	case strings.HasPrefix(cleaned, "+"):
	case strings.HasPrefix(cleaned, "0"):
		cleaned = "+" + cc + cleaned[1:]
	case strings.HasPrefix(cleaned, cc):
		cleaned = "+" + cleaned
	default:
		cleaned = "+" + cc + cleaned
	}

	parsed, err := phonenumbers.Parse(cleaned, "")
	if err != nil {
		log.WithField("context", "phone").WithError(err).Debug("cant parse phone number")
		return Result{Canonical: raw}
	}

	region := phonenumbers.GetRegionCodeForNumber(parsed)
	valid := phonenumbers.IsValidNumber(parsed)
	countryCode := int(parsed.GetCountryCode())

	return Result{
		Canonical:    phonenumbers.Format(parsed, phonenumbers.E164),
		Region:       region,
		CountryCode:  countryCode,
		Valid:        valid,
		TargetRegion: valid && region == c.targetRegion && countryCode == c.callingCode,
	}
}
