package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, Rus, ParseLanguage("ru"))
	assert.Equal(t, Rus, ParseLanguage("ru-RU"))
	assert.Equal(t, Eng, ParseLanguage("en-GB"))
	assert.Equal(t, Eng, ParseLanguage("de"))
	assert.Equal(t, Eng, ParseLanguage(""))
}

func TestTextSet(t *testing.T) {
	set := NewSet("You have %d chats", NewTrans(Rus, "У вас %d чатов"))

	assert.Equal(t, "You have %d chats", set.Text(Eng))
	assert.Equal(t, "У вас %d чатов", set.Text(Rus))
	assert.Equal(t, "You have 3 chats", set.DefaultFormat(3))
	assert.Equal(t, "У вас 3 чатов", set.Format(Rus, 3))
	assert.Equal(t, "You have 3 chats", set.Format(Language("de"), 3))
}
