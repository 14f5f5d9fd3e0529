package chat

import "time"

// Success - зелёная карточка.
func Success(title, description string) *Embed {
	return &Embed{Title: title, Description: description, Color: ColorGreen, Timestamp: time.Now()}
}

// Failure - красная карточка.
func Failure(title, description string) *Embed {
	return &Embed{Title: title, Description: description, Color: ColorRed, Timestamp: time.Now()}
}

// Warning - жёлтая карточка.
func Warning(title, description string) *Embed {
	return &Embed{Title: title, Description: description, Color: ColorAmber, Timestamp: time.Now()}
}

// Info - синяя карточка.
func Info(title, description string) *Embed {
	return &Embed{Title: title, Description: description, Color: ColorBlue, Timestamp: time.Now()}
}
