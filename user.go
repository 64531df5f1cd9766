package railbook

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yuhao-qian/railbook/bptree"
)

// userInfo is the on-disk user record.
type userInfo struct {
	Password  string
	Name      string
	Mail      string
	Privilege int
}

const userInfoSize = maxPasswordLen + maxNameLen + maxMailLen + 4

func marshalUserInfo(u userInfo) []byte {
	b := make([]byte, userInfoSize)
	putString(b[0:maxPasswordLen], u.Password)
	putString(b[maxPasswordLen:maxPasswordLen+maxNameLen], u.Name)
	putString(b[maxPasswordLen+maxNameLen:maxPasswordLen+maxNameLen+maxMailLen], u.Mail)
	binary.LittleEndian.PutUint32(b[maxPasswordLen+maxNameLen+maxMailLen:], uint32(u.Privilege))
	return b
}

func unmarshalUserInfo(b []byte) userInfo {
	return userInfo{
		Password:  getString(b[0:maxPasswordLen]),
		Name:      getString(b[maxPasswordLen : maxPasswordLen+maxNameLen]),
		Mail:      getString(b[maxPasswordLen+maxNameLen : maxPasswordLen+maxNameLen+maxMailLen]),
		Privilege: int(int32(binary.LittleEndian.Uint32(b[maxPasswordLen+maxNameLen+maxMailLen:]))),
	}
}

func (s *System) addUser(cur, user, password, name, mail string, privilege int) (string, error) {
	uid := hashName(user)

	// The very first user bootstraps the system with full privilege;
	// the caller fields are ignored.
	if s.users.IsEmpty() {
		privilege = 10
	} else {
		curPriv, ok := s.sessions.privilege(hashName(cur))

		if !ok {
			return "", errNotLoggedIn
		}

		if curPriv <= privilege {
			return "", errUnauthorized
		}
	}

	record := userInfo{Password: password, Name: name, Mail: mail, Privilege: privilege}

	if _, err := s.users.Insert(idKey(uid), marshalUserInfo(record)); err != nil {
		if errors.Is(err, bptree.ErrExists) {
			return "", errAlreadyExists
		}

		return "", err
	}

	return "0", nil
}

func (s *System) login(user, password string) (string, error) {
	uid := hashName(user)

	if _, ok := s.sessions.privilege(uid); ok {
		return "", fmt.Errorf("%w: already logged in", errInvalidArgument)
	}

	record, err := s.users.Get(idKey(uid))

	if err != nil {
		return "", errNotFound
	}

	info := unmarshalUserInfo(record)

	if info.Password != password {
		return "", fmt.Errorf("%w: wrong password", errUnauthorized)
	}

	s.sessions.login(uid, info.Privilege)
	return "0", nil
}

func (s *System) logout(user string) (string, error) {
	if !s.sessions.logout(hashName(user)) {
		return "", errNotLoggedIn
	}

	return "0", nil
}

func (s *System) queryProfile(cur, user string) (string, error) {
	curID, uid := hashName(cur), hashName(user)
	curPriv, ok := s.sessions.privilege(curID)

	if !ok {
		return "", errNotLoggedIn
	}

	record, err := s.users.Get(idKey(uid))

	if err != nil {
		return "", errNotFound
	}

	info := unmarshalUserInfo(record)

	if uid != curID && curPriv <= info.Privilege {
		return "", errUnauthorized
	}

	return profileLine(user, info), nil
}

// modifyProfile updates the given fields; empty strings and privilege -1
// leave a field unchanged.
func (s *System) modifyProfile(cur, user, password, name, mail string, privilege int) (string, error) {
	curID, uid := hashName(cur), hashName(user)
	curPriv, ok := s.sessions.privilege(curID)

	if !ok {
		return "", errNotLoggedIn
	}

	record, err := s.users.Get(idKey(uid))

	if err != nil {
		return "", errNotFound
	}

	info := unmarshalUserInfo(record)

	if curPriv <= privilege || uid != curID && curPriv <= info.Privilege {
		return "", errUnauthorized
	}

	if password != "" {
		info.Password = password
	}

	if name != "" {
		info.Name = name
	}

	if mail != "" {
		info.Mail = mail
	}

	if privilege != -1 {
		info.Privilege = privilege
	}

	if err := s.users.Set(idKey(uid), marshalUserInfo(info)); err != nil {
		return "", err
	}

	return profileLine(user, info), nil
}

func profileLine(user string, info userInfo) string {
	return fmt.Sprintf("%s %s %s %d", user, info.Name, info.Mail, info.Privilege)
}
