package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// CanManageInvites checks the explicit invite capability flag rather
// than inferring anything from the role name.
func CanManageInvites(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && member.CanInviteUsers
}
