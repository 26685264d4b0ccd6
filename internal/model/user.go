package model

// UserInfo: профиль текущего пользователя, приходит вместе со списком чатов.
type UserInfo struct {
	ID          int64   `json:"id"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       string  `json:"email"`
	DateOfBirth string  `json:"dateOfBirth"`
	Nickname    string  `json:"nickname"`
	Avatar      string  `json:"avatar"`
	AboutMe     string  `json:"aboutMe"`
	IsPrivate   bool    `json:"isPrivate"`
	UserGroups  []int64 `json:"userGroups"`
}
