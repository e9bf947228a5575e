package echoapi

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var (
	supportedLangs = []language.Tag{language.English, language.French}
	langMatcher    = language.NewMatcher(supportedLangs)
	messages       = newCatalog()
)

// translations of API error messages, {english: french}
var frenchMessages = map[string]string{
	"invalid lifecycle transition":     "transition de cycle de vie invalide",
	"student is not enrolled on route": "l'étudiant n'est pas inscrit sur ce trajet",
	"route is closed":                  "le trajet est clôturé",
	"invalid state":                    "état invalide",
	"permission denied":                "permission refusée",
	"not found":                        "introuvable",
	"capacity exceeded":                "capacité dépassée",
	"concurrent modification":          "modification concurrente",
	"dependency failure":               "service indisponible",
	"invalid input":                    "données invalides",
	"user not authenticated":           "utilisateur non authentifié",
	"authentication failed":            "échec de l'authentification",
	"account deactivated":              "compte désactivé",
	"refresh has expired":              "le renouvellement a expiré",
	"missing or malformed jwt":         "jeton jwt manquant ou invalide",
	"invalid or expired jwt":           "jeton jwt invalide ou expiré",
	"Internal Server Error":            "Erreur interne du serveur",
}

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for en, fr := range frenchMessages {
		_ = b.SetString(language.English, en, en)
		_ = b.SetString(language.French, en, fr)
	}
	return b
}

// printerFor returns a printer for the best supported match of an Accept-Language header.
func printerFor(acceptLanguage string) *message.Printer {
	tag := language.English
	if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
		_, idx, conf := langMatcher.Match(tags...)
		if conf != language.No {
			tag = supportedLangs[idx]
		}
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}
