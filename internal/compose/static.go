package compose

import (
	"context"
	"strings"

	"github.com/dgnsrekt/wordcast/tts"
)

// stories are short canned texts by category and age group.
var stories = map[string]map[string]string{
	"adventure": {
		"4-6":  "Benny found a key. He opened a door. Benny made friends! 🌟",
		"6-8":  "Ember breathed bubbles. She found a crystal. Ember saved the kingdom! 🐉✨",
		"8-10": "Alex built a bike. She helped a pharaoh. Alex got a scarab! ⚡🔧",
	},
	"friendship": {
		"4-6":  "Luna and Star were friends. Star's light helped Luna. They played together! 🌙✨",
		"6-8":  "Maya loved books. Jake loved soccer. They won the talent show! ⚽📚",
		"8-10": "Emma met Marcus. They started a club. Their robot helped students! 🤖💙",
	},
	"animals": {
		"4-6":  "Pip was small. He found fish. Pip became a hero! 🐧❄️",
		"6-8":  "Zara had silver stripes. She helped a baby elephant. Zara saved the day! 🦓🌞",
		"8-10": "Kai had different eyes. He found water. Kai saved his pack! 🐺💧",
	},
	"magic": {
		"4-6":  "Willow had sparkles. She found a teddy bear. Willow helped! ✨🧸",
		"6-8":  "Oliver found a crystal. It showed feelings. Oliver helped a friend! 🔮🌈",
		"8-10": "Sophie talked to plants. She saved the forest. Sophie made a difference! 🌳🌿",
	},
}

// categoryHints maps prompt keywords to a story category, checked in order.
var categoryHints = []struct {
	category string
	words    []string
}{
	{"adventure", []string{"adventure", "explore", "journey", "quest"}},
	{"friendship", []string{"friend", "friendship", "together", "help"}},
	{"animals", []string{"animal", "dog", "cat", "bird", "fish", "pet"}},
	{"magic", []string{"magic", "wizard", "fairy", "spell", "enchanted"}},
}

// Canned composes from a fixed set of stories. It needs no network and is
// used in debug mode or when no Gemini key is configured.
type Canned struct{}

// Name implements Composer.
func (Canned) Name() string { return "canned" }

// Compose implements Composer.
func (Canned) Compose(_ context.Context, req Request) (string, error) {
	category := req.Category
	if _, ok := stories[category]; !ok {
		category = CategoryFor(req.Prompt)
	}
	byAge := stories[category]
	if s, ok := byAge[req.AgeGroup]; ok {
		return s, nil
	}
	return byAge[DefaultAgeGroup], nil
}

// CategoryFor picks a story category from the words of a prompt.
func CategoryFor(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, hint := range categoryHints {
		for _, w := range hint.words {
			if strings.Contains(lower, w) {
				return hint.category
			}
		}
	}
	return DefaultCategory
}

// DefaultDecoration is used when no keyword matches.
const DefaultDecoration = "📖🌟✨"

// maxIcons bounds a decoration payload.
const maxIcons = 5

// iconRules maps normalized words to icons, checked in order.
var iconRules = []struct {
	words []string
	icons []string
}{
	// Animals
	{[]string{"cat", "cats", "kitten", "kitty", "meow"}, []string{"🐱", "😺"}},
	{[]string{"dog", "dogs", "puppy", "pup", "woof", "bark"}, []string{"🐶", "🐕"}},
	{[]string{"bird", "birds", "fly", "wing", "tweet"}, []string{"🐦", "🕊️"}},
	{[]string{"fish", "swim", "ocean", "sea"}, []string{"🐠", "🐟"}},
	{[]string{"bunny", "rabbit", "hop"}, []string{"🐰", "🐇"}},
	{[]string{"bear", "teddy"}, []string{"🐻", "🧸"}},
	{[]string{"elephant"}, []string{"🐘"}},
	{[]string{"lion", "roar"}, []string{"🦁"}},
	{[]string{"tiger"}, []string{"🐯"}},
	{[]string{"monkey", "ape"}, []string{"🐵", "🐒"}},
	{[]string{"mouse", "mice", "rat"}, []string{"🐭", "🐁"}},

	// Nature and weather
	{[]string{"sun", "sunny", "bright", "shine", "shone", "shining"}, []string{"☀️", "🌞"}},
	{[]string{"moon", "night", "dark"}, []string{"🌙", "🌛"}},
	{[]string{"star", "stars", "twinkle"}, []string{"⭐", "✨"}},
	{[]string{"tree", "trees", "forest", "wood"}, []string{"🌳", "🌲"}},
	{[]string{"flower", "flowers", "garden", "bloom"}, []string{"🌸", "🌺"}},
	{[]string{"rain", "rainy", "wet"}, []string{"🌧️", "☔"}},
	{[]string{"cloud", "cloudy"}, []string{"☁️", "⛅"}},
	{[]string{"rainbow"}, []string{"🌈"}},

	// Feelings and actions
	{[]string{"happy", "joy", "smile", "glad", "excited"}, []string{"😊", "😄"}},
	{[]string{"sad", "cry", "tear"}, []string{"😢", "😭"}},
	{[]string{"love", "heart", "like", "loved"}, []string{"❤️", "💖"}},
	{[]string{"play", "playing", "played", "fun"}, []string{"🎮", "🎨"}},
	{[]string{"sleep", "sleeping", "tired", "nap"}, []string{"😴", "💤"}},
	{[]string{"eat", "eating", "food", "hungry"}, []string{"🍽️", "🍴"}},
	{[]string{"look", "looking", "see", "saw", "watch"}, []string{"👀"}},
	{[]string{"run", "running", "ran", "race", "fast"}, []string{"🏃", "💨"}},
	{[]string{"jump", "jumping", "jumped", "leap"}, []string{"🤸"}},
	{[]string{"dance", "dancing", "danced"}, []string{"💃", "🕺"}},
	{[]string{"sing", "singing", "sang", "song"}, []string{"🎤", "🎵"}},

	// Objects
	{[]string{"ball", "balls"}, []string{"⚽", "🏀"}},
	{[]string{"book", "books", "read", "story"}, []string{"📖", "📚"}},
	{[]string{"house", "home"}, []string{"🏠", "🏡"}},
	{[]string{"car", "cars", "drive"}, []string{"🚗", "🚙"}},
	{[]string{"toy", "toys"}, []string{"🧸", "🎲"}},
	{[]string{"key", "door"}, []string{"🔑", "🚪"}},
	{[]string{"crystal"}, []string{"🔮"}},

	// Descriptions
	{[]string{"brave", "strong", "hero"}, []string{"💪"}},
	{[]string{"magic", "magical", "spell", "sparkles"}, []string{"✨"}},
	{[]string{"friend", "friends", "buddy", "pal"}, []string{"👫"}},
}

// Keywords decorates windows by matching their words against a fixed icon
// table.
type Keywords struct{}

// Decorate implements Decorator. It never fails.
func (Keywords) Decorate(_ context.Context, words string) (string, error) {
	return KeywordIcons(words), nil
}

// KeywordIcons returns up to five icons for words, or DefaultDecoration.
func KeywordIcons(words string) string {
	present := make(map[string]bool)
	for _, u := range tts.Split(words) {
		present[tts.Normalize(u.Text)] = true
	}

	var (
		icons []string
		seen  = make(map[string]bool)
	)
	for _, rule := range iconRules {
		if !matchesAny(present, rule.words) {
			continue
		}
		for _, icon := range rule.icons {
			if !seen[icon] {
				seen[icon] = true
				icons = append(icons, icon)
			}
		}
	}

	if len(icons) == 0 {
		return DefaultDecoration
	}
	if len(icons) > maxIcons {
		icons = icons[:maxIcons]
	}
	return strings.Join(icons, "")
}

func matchesAny(present map[string]bool, words []string) bool {
	for _, w := range words {
		if present[w] {
			return true
		}
	}
	return false
}
