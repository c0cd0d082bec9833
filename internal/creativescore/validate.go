package creativescore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DimensionKeys lists the seven scored dimensions in validation order.
var DimensionKeys = []string{"clarity", "text_density", "brand", "value_prop", "cta", "contrast", "thumbnail"}

// ValidationError is the first structural problem found in a payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Dimensions struct {
	Clarity     float64 `json:"clarity"`
	TextDensity float64 `json:"text_density"`
	Brand       float64 `json:"brand"`
	ValueProp   float64 `json:"value_prop"`
	CTA         float64 `json:"cta"`
	Contrast    float64 `json:"contrast"`
	Thumbnail   float64 `json:"thumbnail"`
}

func (d *Dimensions) set(key string, v float64) {
	switch key {
	case "clarity":
		d.Clarity = v
	case "text_density":
		d.TextDensity = v
	case "brand":
		d.Brand = v
	case "value_prop":
		d.ValueProp = v
	case "cta":
		d.CTA = v
	case "contrast":
		d.Contrast = v
	case "thumbnail":
		d.Thumbnail = v
	}
}

type Insights struct {
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// Payload is a validated creative-score submission.
type Payload struct {
	AdAccountID     string
	CreativeID      string
	ImageHash       string
	Model           string
	RequestID       string
	Overall         float64
	Dimensions      Dimensions
	Insights        Insights
	ComplianceFlags []string
}

// Validate decodes raw and checks it field by field, returning the first violation.
func Validate(raw []byte) (Payload, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return Payload{}, invalid("body", "request body must be a JSON object")
	}

	var p Payload
	id, ok := doc["creativeId"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return Payload{}, invalid("creativeId", "creativeId is required")
	}
	p.CreativeID = strings.TrimSpace(id)

	for _, f := range []struct {
		key string
		dst *string
	}{{"adAccountId", &p.AdAccountID}, {"imageHash", &p.ImageHash}, {"model", &p.Model}, {"requestId", &p.RequestID}} {
		v, present := doc[f.key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Payload{}, invalid(f.key, "%s must be a string", f.key)
		}
		*f.dst = strings.TrimSpace(s)
	}

	score, ok := doc["score"].(map[string]any)
	if !ok {
		return Payload{}, invalid("score", "score object is required")
	}
	overall, err := scoreValue(score, "overall", "score.overall")
	if err != nil {
		return Payload{}, err
	}
	p.Overall = overall

	dims, ok := score["dimensions"].(map[string]any)
	if !ok {
		return Payload{}, invalid("score.dimensions", "score.dimensions object is required")
	}
	for _, key := range DimensionKeys {
		v, err := scoreValue(dims, key, "score.dimensions."+key)
		if err != nil {
			return Payload{}, err
		}
		p.Dimensions.set(key, v)
	}

	ins, ok := doc["insights"].(map[string]any)
	if !ok {
		return Payload{}, invalid("insights", "insights object is required")
	}
	for _, f := range []struct {
		key string
		dst *[]string
	}{{"strengths", &p.Insights.Strengths}, {"weaknesses", &p.Insights.Weaknesses}, {"recommendations", &p.Insights.Recommendations}} {
		list, err := stringList(ins[f.key], "insights."+f.key, true)
		if err != nil {
			return Payload{}, err
		}
		*f.dst = list
	}

	flags, err := stringList(doc["complianceFlags"], "complianceFlags", false)
	if err != nil {
		return Payload{}, err
	}
	p.ComplianceFlags = flags
	return p, nil
}

func scoreValue(obj map[string]any, key, field string) (float64, error) {
	v, present := obj[key]
	if !present || v == nil {
		return 0, invalid(field, "%s is required", field)
	}
	f, ok := v.(float64)
	if !ok || f < 0 || f > 100 {
		return 0, invalid(field, "%s must be a number between 0 and 100", field)
	}
	return f, nil
}

func stringList(v any, field string, required bool) ([]string, error) {
	if v == nil {
		if required {
			return nil, invalid(field, "%s must be an array of strings", field)
		}
		return []string{}, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, invalid(field, "%s must be an array of strings", field)
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, invalid(field, "%s must be an array of strings", field)
		}
		out = append(out, s)
	}
	return out, nil
}
