package detector

import "testing"

// registryCodes are the ISO 639-1 bases of a registry with register and
// region variants: es, fr, ja_formal, ja_casual, zh_cn, zh_tw, sc.
var registryCodes = []string{"es", "fr", "ja", "ja", "zh", "zh", "sc"}

func TestNewFor_RegistryLanguages(t *testing.T) {
	d := NewFor(registryCodes)

	for _, code := range []string{"en", "ES", "fr", "ja", "zh"} {
		if !d.Supports(code) {
			t.Errorf("Supports(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"", "de", "sc", "zh_cn"} {
		if d.Supports(code) {
			t.Errorf("Supports(%q) = true, want false", code)
		}
	}
}

func TestDetectISO_TableText(t *testing.T) {
	d := NewFor(registryCodes)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"spanish cells", "País Capital España Madrid Francia París Italia Roma", "ES"},
		{"french cells", "Pays Capitale Espagne Madrid Allemagne Berlin Royaume-Uni Londres", "FR"},
		{"japanese cells", "国 首都 スペイン マドリード フランス パリ イタリア ローマ", "JA"},
		{"chinese cells", "国家 首都 西班牙 马德里 法国 巴黎 意大利 罗马 这是一个表格", "ZH"},
		{"untranslated cells", "Country Capital Spain Madrid France Paris Italy Rome", "EN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.DetectISO(tt.text)
			if !ok || got != tt.want {
				t.Errorf("DetectISO() = %q, %v, want %q, true", got, ok, tt.want)
			}
		})
	}
}

func TestDetectISO_Empty(t *testing.T) {
	d := NewFor(registryCodes)
	if code, ok := d.DetectISO(""); ok || code != "" {
		t.Errorf("DetectISO(\"\") = %q, %v, want \"\", false", code, ok)
	}
}

func TestNewFor_FallsBackToAllLanguages(t *testing.T) {
	d := NewFor([]string{"sc", "nan"})
	if !d.Supports("de") {
		t.Error("expected fallback detector to support every language")
	}
}
