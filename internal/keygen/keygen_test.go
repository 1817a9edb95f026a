package keygen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(MinLength - 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below the minimum")

	g, err := NewGenerator(DefaultLength)
	require.NoError(t, err)
	assert.Equal(t, DefaultLength, g.Length())
}

func TestGenerate_Shape(t *testing.T) {
	tests := []struct {
		length     int
		wantGroups []int
	}{
		{16, []int{4, 4, 4, 4}},
		{18, []int{4, 4, 4, 4, 2}},
		{21, []int{4, 4, 4, 4, 4, 1}},
	}

	for _, tt := range tests {
		g, err := NewGenerator(tt.length)
		require.NoError(t, err)

		for i := 0; i < 200; i++ {
			key := g.Generate()
			require.True(t, strings.HasPrefix(key, Prefix+"_"), key)
			require.True(t, Validate(key), key)

			groups := strings.Split(strings.TrimPrefix(key, Prefix+"_"), "-")
			lens := make([]int, len(groups))
			for j, grp := range groups {
				lens[j] = len(grp)
			}
			require.Equal(t, tt.wantGroups, lens, key)
		}
	}
}

func TestGenerate_PoolSplit(t *testing.T) {
	for _, length := range []int{16, 17, 20, 33} {
		g, err := NewGenerator(length)
		require.NoError(t, err)

		wantDigits := length * 7 / 10
		for i := 0; i < 100; i++ {
			body := strings.ReplaceAll(strings.TrimPrefix(g.Generate(), Prefix+"_"), "-", "")
			digits, letters := 0, 0
			for _, c := range body {
				switch {
				case strings.ContainsRune(DigitPool, c):
					digits++
				case strings.ContainsRune(LetterPool, c):
					letters++
				default:
					t.Fatalf("character %q outside both pools", c)
				}
			}
			assert.Equal(t, wantDigits, digits)
			assert.Equal(t, length-wantDigits, letters)
		}
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	g, err := NewGenerator(DefaultLength)
	require.NoError(t, err)

	var wg sync.WaitGroup
	keys := make(chan string, 400)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				keys <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]struct{})
	for k := range keys {
		assert.True(t, Validate(k))
		seen[k] = struct{}{}
	}
	assert.Greater(t, len(seen), 390)
}

func TestPoolsDisjoint(t *testing.T) {
	for _, c := range DigitPool {
		assert.False(t, strings.ContainsRune(LetterPool, c), "pools share %q", c)
	}
}

func TestValidate_AlphabetInSync(t *testing.T) {
	// Every pool character is accepted in every position
	for _, c := range DigitPool + LetterPool {
		key := Prefix + "_" + strings.Repeat(string(c), 4) + "-" + strings.Repeat(string(c), 4) +
			"-" + strings.Repeat(string(c), 4) + "-" + strings.Repeat(string(c), 4)
		assert.True(t, Validate(key), key)
	}

	// Characters outside the pools are rejected
	for _, c := range "0248BDGJLNPQSTUVWXYZabc" {
		key := Prefix + "_" + string(c) + "357-9ACE-FHKM-R135"
		assert.False(t, Validate(key), key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"KF_1357-9ACE-FHKM-R135", true},
		{"KF_1357-9ACE-FHKM-R135-7", true},
		{"KF_135-79AC-EFHK-MR13-5", true},
		{"KF_1357-9ACE-FHKM-R13", false},
		{"KF_13579-ACEF-HKMR-1357", false},
		{"KF_1357--9ACE-FHKM-R135", false},
		{"KF_1357-9ACE-FHKM-R135-", false},
		{"kf_1357-9ACE-FHKM-R135", false},
		{"KF-1357-9ACE-FHKM-R135", false},
		{"XX_1357-9ACE-FHKM-R135", false},
		{"KF_1357-9ace-FHKM-R135", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.key))
		})
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "KF_1357-9ACE-****-****", Mask("KF_1357-9ACE-FHKM-R135"))
	assert.Equal(t, "****", Mask("KF_1"))
	assert.Equal(t, "KF_13579****", Mask("KF_13579ACEF"))
}
