package terms

// StopwordSet is a read-only set of stems excluded from indexing.
type StopwordSet struct {
	words map[string]struct{}
}

// NewStopwordSet builds a set from one or more word lists.
func NewStopwordSet(lists ...[]string) StopwordSet {
	words := make(map[string]struct{})
	for _, list := range lists {
		for _, w := range list {
			words[w] = struct{}{}
		}
	}
	return StopwordSet{words: words}
}

// Contains reports whether stem is a stopword.
func (s StopwordSet) Contains(stem string) bool {
	_, ok := s.words[stem]
	return ok
}

// Len returns the number of distinct stopwords.
func (s StopwordSet) Len() int { return len(s.words) }

// Stopwords is built once at package init and never mutated, so it is safe
// to share across goroutines without locking.
var Stopwords = NewStopwordSet(englishStopwords, italianStopwords)

var englishStopwords = []string{
	"the", "and", "for", "are", "with", "this", "that", "from", "have", "was", "were", "there", "their", "about",
	"into", "when", "your", "will", "shall", "should", "could", "would", "here", "over", "also", "been", "being",
	"than", "then", "them", "they", "what", "which", "while", "where", "whom", "does", "did", "done", "once",
	"upon", "other", "such", "more", "some", "each", "very", "just", "like", "make", "made", "many", "most",
	"ever", "even", "much", "take", "used", "using", "use", "note", "notes", "link", "links",
}

var italianStopwords = []string{
	"che", "per", "con", "una", "uno", "nel", "nella", "degli", "delle", "quando", "dove", "come", "anche",
	"dopo", "prima", "mentre", "sopra", "sotto", "avere", "essere", "sono", "siamo", "state", "stato",
	"questo", "quella", "quello", "queste", "questi", "loro", "noi", "voi", "tra", "fra", "molto", "molti",
}
