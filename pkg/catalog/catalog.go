// Package catalog is the closed set of products a payment can buy, their
// static prices and the JSON schema every product input is checked against.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SKU identifies a product.
type SKU string

const (
	ImgGenBasic SKU = "img-gen-basic"
	MemeMaker   SKU = "meme-maker"
	BgRemove    SKU = "bg-remove"
	Upscale2x   SKU = "upscale-2x"
	Favicon     SKU = "favicon"
	URLSum      SKU = "urlsum"
	PDF2Txt     SKU = "pdf2txt"
)

// All lists every SKU in display order.
var All = []SKU{ImgGenBasic, MemeMaker, BgRemove, Upscale2x, Favicon, URLSum, PDF2Txt}

// DefaultPrices are the static prices in USDC atomic units.
var DefaultPrices = map[SKU]string{
	ImgGenBasic: "30000",
	MemeMaker:   "30000",
	BgRemove:    "60000",
	Upscale2x:   "50000",
	Favicon:     "30000",
	URLSum:      "30000",
	PDF2Txt:     "40000",
}

// ErrUnknownSKU is returned by Lookup for ids outside the catalog.
var ErrUnknownSKU = errors.New("unknown sku")

// PromptRejectedMessage is reported when a prompt hits the blocklist.
const PromptRejectedMessage = "Prompt contains disallowed content (people, violence, etc.)"

var blockedPrompt = regexp.MustCompile(`(?i)sex|porn|nude|nsfw`)

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports an input that does not match its product schema.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// Product is one purchasable SKU.
type Product struct {
	ID          SKU    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceAtomic string `json:"priceAtomic"`
	// DynamicPricing means the estimator prices each request.
	DynamicPricing bool              `json:"dynamicPricing"`
	Output         map[string]string `json:"outputSchema"`

	schema      *gojsonschema.Schema
	promptField string
	normalize   func(map[string]interface{})
}

type definition struct {
	name        string
	description string
	dynamic     bool
	schema      string
	promptField string
	normalize   func(map[string]interface{})
	output      map[string]string
}

var definitions = map[SKU]definition{
	ImgGenBasic: {
		name:        "Basic Image Generation",
		description: "Generate 768×768 PNG image from text prompt",
		dynamic:     true,
		schema:      promptSchema,
		promptField: "prompt",
		output:      map[string]string{"imageBase64": "string", "signedUrl": "string"},
	},
	MemeMaker: {
		name:        "Meme Maker",
		description: "Create a meme from a text prompt (AI-generated)",
		dynamic:     true,
		schema:      promptSchema,
		promptField: "prompt",
		output:      map[string]string{"imageBase64": "string", "signedUrl": "string"},
	},
	BgRemove: {
		name:        "Background Removal",
		description: "Remove background from image (PNG with alpha)",
		dynamic:     true,
		schema:      imageSchema,
		output:      map[string]string{"imageBase64": "string", "signedUrl": "string"},
	},
	Upscale2x: {
		name:        "2× Image Upscale",
		description: "Upscale image 2× with quality enhancement",
		schema:      imageSchema,
		output:      map[string]string{"imageBase64": "string", "signedUrl": "string", "scale": "number"},
	},
	Favicon: {
		name:        "Favicon Generator",
		description: "Generate multi-size favicons + ICO (16-512px)",
		schema:      imageSchema,
		output:      map[string]string{"zipBase64": "string", "signedUrl": "string", "sizes": "array"},
	},
	URLSum: {
		name:        "URL Summarizer",
		description: "Extract and summarize webpage content with AI",
		dynamic:     true,
		schema:      urlSchema,
		normalize:   normalizeURL,
		output:      map[string]string{"summary": "string", "bullets": "array", "entities": "array"},
	},
	PDF2Txt: {
		name:        "PDF to Text",
		description: "Extract text from PDF (≤10MB)",
		schema:      pdfSchema,
		output:      map[string]string{"text": "string", "pageCount": "number", "signedUrl": "string"},
	},
}

// normalizeURL prefixes https:// to a url given without a scheme.
func normalizeURL(input map[string]interface{}) {
	raw, ok := input["url"].(string)
	if !ok {
		return
	}
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	input["url"] = raw
}

// Catalog holds every product. It is built once at startup and read-only afterwards.
type Catalog struct {
	products map[SKU]*Product
}

// New builds the catalog. prices overrides DefaultPrices per SKU.
func New(prices map[SKU]string) (*Catalog, error) {
	c := &Catalog{products: make(map[SKU]*Product, len(All))}

	for _, id := range All {
		def := definitions[id]

		price := DefaultPrices[id]
		if override, ok := prices[id]; ok && override != "" {
			price = override
		}
		if v, err := strconv.ParseUint(price, 10, 64); err != nil || v == 0 {
			return nil, fmt.Errorf("invalid price for %s: %q", id, price)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.schema))
		if err != nil {
			return nil, fmt.Errorf("invalid input schema for %s: %w", id, err)
		}

		c.products[id] = &Product{
			ID:             id,
			Name:           def.name,
			Description:    def.description,
			PriceAtomic:    price,
			DynamicPricing: def.dynamic,
			Output:         def.output,
			schema:         schema,
			promptField:    def.promptField,
			normalize:      def.normalize,
		}
	}

	return c, nil
}

// Default returns the catalog with static default prices.
func Default() *Catalog {
	c, err := New(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the product for id.
func (c *Catalog) Lookup(id string) (*Product, error) {
	p, ok := c.products[SKU(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSKU, id)
	}
	return p, nil
}

// Products returns every product in display order.
func (c *Catalog) Products() []*Product {
	out := make([]*Product, 0, len(All))
	for _, id := range All {
		out = append(out, c.products[id])
	}
	return out
}

// Validate parses body as the product's input, normalizes it and checks it
// against the product schema. An empty body is an empty object.
func (p *Product) Validate(body []byte) (map[string]interface{}, error) {
	var input map[string]interface{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			return nil, &ValidationError{
				Message: "Request body must be a JSON object",
				Fields:  []FieldError{{Field: "(root)", Message: err.Error()}},
			}
		}
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	if p.normalize != nil {
		p.normalize(input)
	}

	result, err := p.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("Invalid input for SKU %s", p.ID),
			Fields:  []FieldError{{Field: "(root)", Message: err.Error()}},
		}
	}
	if !result.Valid() {
		fields := make([]FieldError, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			fields = append(fields, FieldError{Field: re.Field(), Message: re.Description()})
		}
		return nil, &ValidationError{
			Message: fmt.Sprintf("Invalid input for SKU %s", p.ID),
			Fields:  fields,
		}
	}

	if p.promptField != "" {
		if prompt, _ := input[p.promptField].(string); blockedPrompt.MatchString(prompt) {
			return nil, &ValidationError{Message: PromptRejectedMessage}
		}
	}

	return input, nil
}
