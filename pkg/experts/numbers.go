package experts

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Numbers is a Pythagorean numerology profile.
type Numbers struct {
	LifePath      int            `json:"life_path"`
	Expression    int            `json:"expression"`
	SoulUrge      int            `json:"soul_urge"`
	Personality   int            `json:"personality"`
	Birthday      int            `json:"birthday"`
	Maturity      int            `json:"maturity"`
	PersonalYear  int            `json:"personal_year"`
	PersonalMonth int            `json:"personal_month"`
	PersonalDay   int            `json:"personal_day"`
	Pinnacles     [4]int         `json:"pinnacles"`
	Challenges    [4]int         `json:"challenges"`
	Matrix        map[int]string `json:"matrix"`
}

const (
	latinAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	cyrillicAlphabet = "АБВГДЕЁЖЗИЙКЛМНОПРСТУФХЦЧШЩЪЫЬЭЮЯ"
	vowels           = "AEIOUАЕЁИОУЫЭЮЯ"
)

var letterValues = func() map[rune]int {
	m := make(map[rune]int)
	for _, alphabet := range []string{latinAlphabet, cyrillicAlphabet} {
		for i, r := range []rune(alphabet) {
			m[r] = i%9 + 1
		}
	}
	return m
}()

func isMaster(n int) bool { return n == 11 || n == 22 || n == 33 }

func sumDigits(n int) int {
	if n < 0 {
		n = -n
	}
	s := 0
	for ; n > 0; n /= 10 {
		s += n % 10
	}
	return s
}

// Reduce sums digits until one digit or a master number (11, 22, 33) is
// left.
func Reduce(n int) int {
	for n > 9 && !isMaster(n) {
		n = sumDigits(n)
	}
	return n
}

func reduceSingle(n int) int {
	for n > 9 {
		n = sumDigits(n)
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// nameValues sums letter values of all letters, vowels and consonants.
// ok is false when name has no supported letters.
func nameValues(name string) (all, vowel, consonant int, ok bool) {
	for _, r := range strings.ToUpper(name) {
		v, known := letterValues[r]
		if !known {
			continue
		}
		ok = true
		all += v
		if strings.ContainsRune(vowels, r) {
			vowel += v
		} else {
			consonant += v
		}
	}
	return all, vowel, consonant, ok
}

// CalculateNumbers computes the profile for a name and birth date as seen
// on target. Letters outside the Latin and Russian alphabets are ignored.
func CalculateNumbers(fullName string, birth, target time.Time) (*Numbers, bool) {
	all, vowel, consonant, ok := nameValues(fullName)
	if !ok {
		return nil, false
	}
	m, d, y := int(birth.Month()), birth.Day(), birth.Year()

	n := &Numbers{
		LifePath:    Reduce(Reduce(m) + Reduce(d) + Reduce(y)),
		Expression:  Reduce(all),
		SoulUrge:    Reduce(vowel),
		Personality: Reduce(consonant),
		Birthday:    Reduce(d),
	}
	n.Maturity = Reduce(n.LifePath + n.Expression)

	n.PersonalYear = Reduce(sumDigits(m) + sumDigits(d) + sumDigits(target.Year()))
	n.PersonalMonth = Reduce(n.PersonalYear + int(target.Month()))
	n.PersonalDay = Reduce(n.PersonalMonth + target.Day())

	rm, rd, ry := reduceSingle(m), reduceSingle(d), reduceSingle(y)
	n.Pinnacles[0] = Reduce(rm + rd)
	n.Pinnacles[1] = Reduce(rd + ry)
	n.Pinnacles[2] = Reduce(n.Pinnacles[0] + n.Pinnacles[1])
	n.Pinnacles[3] = Reduce(rm + ry)
	n.Challenges[0] = abs(rm - rd)
	n.Challenges[1] = abs(rd - ry)
	n.Challenges[2] = abs(n.Challenges[0] - n.Challenges[1])
	n.Challenges[3] = abs(rm - ry)

	n.Matrix = make(map[int]string, 9)
	for i := 1; i <= 9; i++ {
		n.Matrix[i] = ""
	}
	for _, r := range birth.Format("20060102") {
		if unicode.IsDigit(r) && r != '0' {
			digit := int(r - '0')
			n.Matrix[digit] += strconv.Itoa(digit)
		}
	}
	return n, true
}
