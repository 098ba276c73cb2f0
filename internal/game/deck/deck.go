package deck

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
)

// KindRosier marks the two "framed" cards of the Kvitlach deck. A pair
// of rosiers as the first two cards dealt is an automatic 21.
const KindRosier = "rosier"

// Card is immutable once dealt except for the EleveroonIgnored flag,
// which excludes it from every total.
type Card struct {
	Name             string `json:"name"`
	Values           []int  `json:"values"`
	Kind             string `json:"kind,omitempty"`
	EleveroonIgnored bool   `json:"eleveroonIgnored,omitempty"`
}

// cardsPerShoe is four copies of each of the twelve card names.
const cardsPerShoe = 48

const (
	MinShoes = 1
	MaxShoes = 16
)

// newCard builds the card for a given name. Card "12" is multi-valued,
// "2" and "11" are rosiers, everything else carries its face value.
func newCard(name string) Card {
	switch name {
	case "12":
		return Card{Name: name, Values: []int{12, 9, 10}}
	case "2", "11":
		n, _ := strconv.Atoi(name)
		return Card{Name: name, Values: []int{n}, Kind: KindRosier}
	default:
		n, _ := strconv.Atoi(name)
		return Card{Name: name, Values: []int{n}}
	}
}

// Shoe builds count concatenated 48-card shoes and shuffles them.
func Shoe(count int) []Card {
	if count < MinShoes {
		count = MinShoes
	}
	if count > MaxShoes {
		count = MaxShoes
	}
	cards := make([]Card, 0, count*cardsPerShoe)
	for s := 0; s < count; s++ {
		for copies := 0; copies < 4; copies++ {
			for name := 1; name <= 12; name++ {
				cards = append(cards, newCard(fmt.Sprintf("%d", name)))
			}
		}
	}
	shuffle(cards)
	return cards
}

// SizeFor picks a shoe count for a table: six cards of headroom per
// player plus six spare, rounded up to whole shoes.
func SizeFor(playerCount int) int {
	n := (6*playerCount + 6 + cardsPerShoe - 1) / cardsPerShoe
	if n < MinShoes {
		return MinShoes
	}
	if n > MaxShoes {
		return MaxShoes
	}
	return n
}

func shuffle(cards []Card) {
	rnd := rand.New(rand.NewSource(cryptoSeed()))
	rnd.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// cryptoSeed seeds the shuffle from the platform RNG.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; keep a
		// deterministic fallback anyway.
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
