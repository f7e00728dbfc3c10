package languages

type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

var SupportedLanguages = []Language{
	{Name: "Spanish", Code: "es"},
	{Name: "English", Code: "en"},
	{Name: "French", Code: "fr"},
	{Name: "Japanese", Code: "jp"},
	{Name: "German", Code: "de"},
	{Name: "Portuguese", Code: "pt"},
	{Name: "Italian", Code: "it"},
	{Name: "Chinese", Code: "zh"},
}

func GetSupportedLanguages() []Language {
	return SupportedLanguages
}

func IsValidLanguage(language string) bool {
	for _, lang := range SupportedLanguages {
		if lang.Code == language {
			return true
		}
	}
	return false
}

// Codes returns the supported language codes in declaration order.
func Codes() []string {
	codes := make([]string, 0, len(SupportedLanguages))
	for _, lang := range SupportedLanguages {
		codes = append(codes, lang.Code)
	}
	return codes
}
