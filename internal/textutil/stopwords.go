package textutil

// stopwords are normalized (accent-free) Spanish function words.
var stopwords = map[string]struct{}{
	"a": {}, "al": {}, "algo": {}, "alguien": {}, "algun": {}, "alguna": {}, "ante": {},
	"asi": {}, "aun": {}, "bien": {}, "cada": {}, "como": {}, "con": {}, "cual": {},
	"cuales": {}, "cuando": {}, "cuanto": {}, "de": {}, "del": {}, "desde": {}, "donde": {},
	"dos": {}, "el": {}, "ella": {}, "ellas": {}, "ellos": {}, "en": {}, "entre": {},
	"era": {}, "es": {}, "esa": {}, "ese": {}, "eso": {}, "esta": {}, "estan": {},
	"estas": {}, "este": {}, "esto": {}, "estoy": {}, "fue": {}, "ha": {}, "hay": {},
	"he": {}, "hace": {}, "hacer": {}, "hasta": {}, "la": {}, "las": {}, "le": {},
	"les": {}, "lo": {}, "los": {}, "mas": {}, "me": {}, "mi": {}, "mis": {}, "mucho": {},
	"muy": {}, "nada": {}, "ni": {}, "nos": {}, "o": {}, "otra": {}, "otro": {}, "para": {},
	"pero": {}, "por": {}, "porque": {}, "puede": {}, "puedo": {}, "que": {}, "quien": {},
	"se": {}, "sea": {}, "ser": {}, "si": {}, "sin": {}, "sobre": {}, "son": {}, "su": {},
	"sus": {}, "tal": {}, "tambien": {}, "tan": {}, "te": {}, "tengo": {}, "tiene": {},
	"todo": {}, "tu": {}, "tus": {}, "un": {}, "una": {}, "uno": {}, "unos": {}, "unas": {},
	"usted": {}, "y": {}, "ya": {}, "yo": {},
}

// IsStopword reports whether a normalized token is a Spanish function word.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
