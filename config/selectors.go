package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Selectors is the fixed surface of the target application: entry URLs and
// the CSS locators the workflow drives. A value is built once and injected;
// nothing mutates it afterwards.
type Selectors struct {
	DetailsURL string `yaml:"details_url"`
	PriceURL   string `yaml:"price_url"`

	SearchTrigger string `yaml:"search_trigger"`
	CompanyInput  string `yaml:"company_input"`
	SearchConfirm string `yaml:"search_confirm"`
	ResultsFrame  string `yaml:"results_frame"`

	CandidateList string `yaml:"candidate_list"`
	CandidateItem string `yaml:"candidate_item"`
	// CandidateRowFormat takes the zero-based candidate index.
	CandidateRowFormat string `yaml:"candidate_row_format"`

	FromDate     string `yaml:"from_date"`
	ToDate       string `yaml:"to_date"`
	RangeConfirm string `yaml:"range_confirm"`

	GridBody string `yaml:"grid_body"`
	NextPage string `yaml:"next_page"`

	ErrorPopup      string `yaml:"error_popup"`
	ErrorPopupClose string `yaml:"error_popup_close"`
}

// DefaultSelectors returns the locators of the live exercise-history pages.
func DefaultSelectors() Selectors {
	const base = "https://seibro.or.kr/websquare/control.jsp?w2xPath=/IPORTAL/user/bond/"
	return Selectors{
		DetailsURL: base + "BIP_CNTS03024V.xml&menuNo=416",
		PriceURL:   base + "BIP_CNTS03025V.xml&menuNo=417",

		SearchTrigger: "#bd_input2_image1",
		CompanyInput:  "#search_string",
		SearchConfirm: "#image2",
		ResultsFrame:  "#iframeIsin",

		CandidateList:      "#isinList",
		CandidateItem:      `[id^="isinList_"][id$="_group178"]`,
		CandidateRowFormat: "#isinList_%d_ISIN_ROW",

		FromDate:     "#inputCalendar1_input",
		ToDate:       "#inputCalendar2_input",
		RangeConfirm: "#image2",

		GridBody: "#grid1_body_tbody",
		NextPage: "#gridPaging_next_btn",

		ErrorPopup:      `[id^="_alert_"][role="dialog"], .w2window_alert`,
		ErrorPopupClose: `[id$="_btn_ok"], .w2window_alert .btn_cm`,
	}
}

// LoadSelectors reads a YAML override file. Keys absent from the file keep
// their DefaultSelectors value.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	return sel, nil
}

// Validate checks that both URLs are set and every locator compiles.
func (s Selectors) Validate() error {
	if strings.TrimSpace(s.DetailsURL) == "" {
		return fmt.Errorf("selectors: details_url is empty")
	}
	if strings.TrimSpace(s.PriceURL) == "" {
		return fmt.Errorf("selectors: price_url is empty")
	}
	if !strings.Contains(s.CandidateRowFormat, "%d") {
		return fmt.Errorf("selectors: candidate_row_format %q has no %%d verb", s.CandidateRowFormat)
	}

	locators := []struct {
		name, value string
	}{
		{"search_trigger", s.SearchTrigger},
		{"company_input", s.CompanyInput},
		{"search_confirm", s.SearchConfirm},
		{"results_frame", s.ResultsFrame},
		{"candidate_list", s.CandidateList},
		{"candidate_item", s.CandidateItem},
		{"candidate_row_format", s.CandidateRow(0)},
		{"from_date", s.FromDate},
		{"to_date", s.ToDate},
		{"range_confirm", s.RangeConfirm},
		{"grid_body", s.GridBody},
		{"next_page", s.NextPage},
		{"error_popup", s.ErrorPopup},
		{"error_popup_close", s.ErrorPopupClose},
	}
	for _, l := range locators {
		if strings.TrimSpace(l.value) == "" {
			return fmt.Errorf("selectors: %s is empty", l.name)
		}
		if _, err := cascadia.ParseGroup(l.value); err != nil {
			return fmt.Errorf("selectors: %s %q: %w", l.name, l.value, err)
		}
	}
	return nil
}

// CandidateRow returns the locator of the candidate row at index i.
func (s Selectors) CandidateRow(i int) string {
	return fmt.Sprintf(s.CandidateRowFormat, i)
}
