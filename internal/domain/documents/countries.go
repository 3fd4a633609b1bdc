package documents

import (
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Countries offered in the embassy letter dropdown.
var Countries = []string{
	"Afghanistan", "Albania", "Algeria", "Andorra", "Angola", "Antigua and Barbuda", "Argentina", "Armenia", "Australia", "Austria", "Azerbaijan",
	"Bahamas", "Bahrain", "Bangladesh", "Barbados", "Belarus", "Belgium", "Belize", "Benin", "Bhutan", "Bolivia", "Bosnia and Herzegovina", "Botswana", "Brazil", "Brunei", "Bulgaria", "Burkina Faso", "Burundi",
	"Cabo Verde", "Cambodia", "Cameroon", "Canada", "Central African Republic", "Chad", "Chile", "China", "Colombia", "Comoros", "Democratic Republic of the Congo", "Congo", "Costa Rica", "Cote d'Ivoire", "Croatia", "Cuba", "Cyprus", "Czechia",
	"Denmark", "Djibouti", "Dominica", "Dominican Republic",
	"Ecuador", "Egypt", "El Salvador", "Equatorial Guinea", "Eritrea", "Estonia", "Eswatini", "Ethiopia",
	"Fiji", "Finland", "France",
	"Gabon", "Gambia", "Georgia", "Germany", "Ghana", "Greece", "Grenada", "Guatemala", "Guinea", "Guinea-Bissau", "Guyana",
	"Haiti", "Honduras", "Hungary",
	"Iceland", "India", "Indonesia", "Iran", "Iraq", "Ireland", "Israel", "Italy",
	"Jamaica", "Japan", "Jordan",
	"Kazakhstan", "Kenya", "Kiribati", "North Korea", "South Korea", "Kuwait", "Kyrgyzstan",
	"Laos", "Latvia", "Lebanon", "Lesotho", "Liberia", "Libya", "Liechtenstein", "Lithuania", "Luxembourg",
	"Madagascar", "Malawi", "Malaysia", "Maldives", "Mali", "Malta", "Marshall Islands", "Mauritania", "Mauritius", "Mexico", "Micronesia", "Moldova", "Monaco", "Mongolia", "Montenegro", "Morocco", "Mozambique", "Myanmar",
	"Namibia", "Nauru", "Nepal", "Netherlands", "New Zealand", "Nicaragua", "Niger", "Nigeria", "North Macedonia", "Norway",
	"Oman",
	"Pakistan", "Palau", "Panama", "Papua New Guinea", "Paraguay", "Peru", "Philippines", "Poland", "Portugal",
	"Qatar",
	"Romania", "Russia", "Rwanda",
	"Saint Kitts and Nevis", "Saint Lucia", "Saint Vincent and the Grenadines", "Samoa", "San Marino", "Sao Tome and Principe", "Saudi Arabia", "Senegal", "Serbia", "Seychelles", "Sierra Leone", "Singapore", "Slovakia", "Slovenia", "Solomon Islands", "Somalia", "South Africa", "South Sudan", "Spain", "Sri Lanka", "Sudan", "Suriname", "Sweden", "Switzerland", "Syria",
	"Taiwan", "Tajikistan", "Tanzania", "Thailand", "Timor-Leste", "Togo", "Tonga", "Trinidad and Tobago", "Tunisia", "Turkey", "Turkmenistan", "Tuvalu",
	"Uganda", "Ukraine", "United Arab Emirates", "United Kingdom", "United States", "Uruguay", "Uzbekistan",
	"Vanuatu", "Vatican City", "Venezuela", "Vietnam",
	"Yemen",
	"Zambia", "Zimbabwe",
}

// countryAliases maps abbreviations and demonyms to canonical names.
var countryAliases = map[string]string{
	"usa": "United States", "u s a": "United States",
	"america": "United States", "american": "United States",
	"uae": "United Arab Emirates", "u a e": "United Arab Emirates", "emirates": "United Arab Emirates", "emirati": "United Arab Emirates",
	"ksa": "Saudi Arabia", "k s a": "Saudi Arabia", "saudi": "Saudi Arabia", "saudia": "Saudi Arabia",
	"uk": "United Kingdom", "u k": "United Kingdom", "britain": "United Kingdom", "great britain": "United Kingdom",
	"england": "United Kingdom", "gb": "United Kingdom",
	"drc": "Democratic Republic of the Congo", "dr congo": "Democratic Republic of the Congo",
	"s korea": "South Korea", "republic of korea": "South Korea",
	"n korea": "North Korea",
}

func countryOptions() []types.Option {
	out := make([]types.Option, len(Countries))
	for i, c := range Countries {
		out[i] = types.Option{Value: c, Label: c}
	}
	return out
}

// NormalizeCountry turns an abbreviation or alias into the canonical
// country name and keeps anything else as typed.
func NormalizeCountry(name string) string {
	key := flow.Clean(name)
	if key == "" {
		return ""
	}
	if canonical, ok := countryAliases[key]; ok {
		return canonical
	}
	for _, c := range Countries {
		if strings.EqualFold(c, strings.TrimSpace(name)) {
			return c
		}
	}
	return strings.TrimSpace(name)
}

// FindCountry looks for a country mentioned anywhere in text. Names and
// aliases must appear as whole words so "uk" does not match "ukraine".
func FindCountry(text string) (string, bool) {
	padded := " " + flow.Clean(text) + " "
	if padded == "  " {
		return "", false
	}
	// Longest name wins so "papua new guinea" is not read as Guinea.
	best := ""
	for _, c := range Countries {
		if len(c) > len(best) && strings.Contains(padded, " "+flow.Clean(c)+" ") {
			best = c
		}
	}
	if best != "" {
		return best, true
	}
	for alias, canonical := range countryAliases {
		if strings.Contains(padded, " "+alias+" ") {
			return canonical, true
		}
	}
	return "", false
}
