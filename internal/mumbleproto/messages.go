package mumbleproto

// Version announces the client release.
type Version struct {
	Version   *uint32
	Release   *string
	OS        *string
	OSVersion *string
}

func (m *Version) Kind() Kind { return KindVersion }

func (m *Version) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Version)
	b = appendString(b, 2, m.Release)
	b = appendString(b, 3, m.OS)
	return appendString(b, 4, m.OSVersion)
}

func (m *Version) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = Uint32(f.u32())
		case 2:
			m.Release = String(f.str())
		case 3:
			m.OS = String(f.str())
		case 4:
			m.OSVersion = String(f.str())
		}
		return nil
	})
}

// Authenticate carries the credentials and codec capabilities of a client.
type Authenticate struct {
	Username     *string
	Password     *string
	Tokens       []string
	CELTVersions []int32
	Opus         *bool
}

func (m *Authenticate) Kind() Kind { return KindAuthenticate }

func (m *Authenticate) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Username)
	b = appendString(b, 2, m.Password)
	for i := range m.Tokens {
		b = appendString(b, 3, &m.Tokens[i])
	}
	for i := range m.CELTVersions {
		b = appendInt32(b, 4, &m.CELTVersions[i])
	}
	return appendBool(b, 5, m.Opus)
}

func (m *Authenticate) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Username = String(f.str())
		case 2:
			m.Password = String(f.str())
		case 3:
			m.Tokens = append(m.Tokens, f.str())
		case 4:
			vs, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range vs {
				m.CELTVersions = append(m.CELTVersions, int32(v))
			}
		case 5:
			m.Opus = Bool(f.boolean())
		}
		return nil
	})
}

// Ping is the keepalive, echoed by the server with the same timestamp.
type Ping struct {
	Timestamp  *uint64
	Good       *uint32
	Late       *uint32
	Lost       *uint32
	Resync     *uint32
	UDPPackets *uint32
	TCPPackets *uint32
	UDPPingAvg *float32
	UDPPingVar *float32
	TCPPingAvg *float32
	TCPPingVar *float32
}

func (m *Ping) Kind() Kind { return KindPing }

func (m *Ping) AppendWire(b []byte) []byte {
	b = appendUint64(b, 1, m.Timestamp)
	b = appendUint32(b, 2, m.Good)
	b = appendUint32(b, 3, m.Late)
	b = appendUint32(b, 4, m.Lost)
	b = appendUint32(b, 5, m.Resync)
	b = appendUint32(b, 6, m.UDPPackets)
	b = appendUint32(b, 7, m.TCPPackets)
	b = appendFloat(b, 8, m.UDPPingAvg)
	b = appendFloat(b, 9, m.UDPPingVar)
	b = appendFloat(b, 10, m.TCPPingAvg)
	return appendFloat(b, 11, m.TCPPingVar)
}

func (m *Ping) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Timestamp = Uint64(f.v)
		case 2:
			m.Good = Uint32(f.u32())
		case 3:
			m.Late = Uint32(f.u32())
		case 4:
			m.Lost = Uint32(f.u32())
		case 5:
			m.Resync = Uint32(f.u32())
		case 6:
			m.UDPPackets = Uint32(f.u32())
		case 7:
			m.TCPPackets = Uint32(f.u32())
		case 8:
			m.UDPPingAvg = Float32(f.f32())
		case 9:
			m.UDPPingVar = Float32(f.f32())
		case 10:
			m.TCPPingAvg = Float32(f.f32())
		case 11:
			m.TCPPingVar = Float32(f.f32())
		}
		return nil
	})
}

// Reject is sent by the server when authentication fails.
type Reject struct {
	Type   *uint32
	Reason *string
}

func (m *Reject) Kind() Kind { return KindReject }

func (m *Reject) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Type)
	return appendString(b, 2, m.Reason)
}

func (m *Reject) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Type = Uint32(f.u32())
		case 2:
			m.Reason = String(f.str())
		}
		return nil
	})
}

// ServerSync completes the handshake and assigns the client its session.
type ServerSync struct {
	Session      *uint32
	MaxBandwidth *uint32
	WelcomeText  *string
	Permissions  *uint64
}

func (m *ServerSync) Kind() Kind { return KindServerSync }

func (m *ServerSync) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.MaxBandwidth)
	b = appendString(b, 3, m.WelcomeText)
	return appendUint64(b, 4, m.Permissions)
}

func (m *ServerSync) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Session = Uint32(f.u32())
		case 2:
			m.MaxBandwidth = Uint32(f.u32())
		case 3:
			m.WelcomeText = String(f.str())
		case 4:
			m.Permissions = Uint64(f.v)
		}
		return nil
	})
}

type ChannelRemove struct {
	ChannelID *uint32
}

func (m *ChannelRemove) Kind() Kind { return KindChannelRemove }

func (m *ChannelRemove) AppendWire(b []byte) []byte {
	return appendUint32(b, 1, m.ChannelID)
}

func (m *ChannelRemove) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.ChannelID = Uint32(f.u32())
		}
		return nil
	})
}

// ChannelState announces a channel or a change to one. Unset fields are
// unchanged.
type ChannelState struct {
	ChannelID   *uint32
	Parent      *uint32
	Name        *string
	Description *string
	Temporary   *bool
	Position    *int32
	MaxUsers    *uint32
}

func (m *ChannelState) Kind() Kind { return KindChannelState }

func (m *ChannelState) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.ChannelID)
	b = appendUint32(b, 2, m.Parent)
	b = appendString(b, 3, m.Name)
	b = appendString(b, 5, m.Description)
	b = appendBool(b, 8, m.Temporary)
	b = appendInt32(b, 9, m.Position)
	return appendUint32(b, 11, m.MaxUsers)
}

func (m *ChannelState) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.ChannelID = Uint32(f.u32())
		case 2:
			m.Parent = Uint32(f.u32())
		case 3:
			m.Name = String(f.str())
		case 5:
			m.Description = String(f.str())
		case 8:
			m.Temporary = Bool(f.boolean())
		case 9:
			m.Position = Int32(f.i32())
		case 11:
			m.MaxUsers = Uint32(f.u32())
		}
		return nil
	})
}

// UserRemove reports a user leaving the server.
type UserRemove struct {
	Session *uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

func (m *UserRemove) Kind() Kind { return KindUserRemove }

func (m *UserRemove) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.Actor)
	b = appendString(b, 3, m.Reason)
	return appendBool(b, 4, m.Ban)
}

func (m *UserRemove) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Session = Uint32(f.u32())
		case 2:
			m.Actor = Uint32(f.u32())
		case 3:
			m.Reason = String(f.str())
		case 4:
			m.Ban = Bool(f.boolean())
		}
		return nil
	})
}

// UserState announces a user or a partial change to one. Actor names whoever
// caused the change and is not a property of the user.
type UserState struct {
	Session         *uint32
	Actor           *uint32
	Name            *string
	UserID          *uint32
	ChannelID       *uint32
	Mute            *bool
	Deaf            *bool
	Suppress        *bool
	SelfMute        *bool
	SelfDeaf        *bool
	Texture         []byte
	PluginContext   []byte
	PluginIdentity  *string
	Comment         *string
	Hash            *string
	CommentHash     []byte
	TextureHash     []byte
	PrioritySpeaker *bool
	Recording       *bool
}

func (m *UserState) Kind() Kind { return KindUserState }

func (m *UserState) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Session)
	b = appendUint32(b, 2, m.Actor)
	b = appendString(b, 3, m.Name)
	b = appendUint32(b, 4, m.UserID)
	b = appendUint32(b, 5, m.ChannelID)
	b = appendBool(b, 6, m.Mute)
	b = appendBool(b, 7, m.Deaf)
	b = appendBool(b, 8, m.Suppress)
	b = appendBool(b, 9, m.SelfMute)
	b = appendBool(b, 10, m.SelfDeaf)
	b = appendBytes(b, 11, m.Texture)
	b = appendBytes(b, 12, m.PluginContext)
	b = appendString(b, 13, m.PluginIdentity)
	b = appendString(b, 14, m.Comment)
	b = appendString(b, 15, m.Hash)
	b = appendBytes(b, 16, m.CommentHash)
	b = appendBytes(b, 17, m.TextureHash)
	b = appendBool(b, 18, m.PrioritySpeaker)
	return appendBool(b, 19, m.Recording)
}

func (m *UserState) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Session = Uint32(f.u32())
		case 2:
			m.Actor = Uint32(f.u32())
		case 3:
			m.Name = String(f.str())
		case 4:
			m.UserID = Uint32(f.u32())
		case 5:
			m.ChannelID = Uint32(f.u32())
		case 6:
			m.Mute = Bool(f.boolean())
		case 7:
			m.Deaf = Bool(f.boolean())
		case 8:
			m.Suppress = Bool(f.boolean())
		case 9:
			m.SelfMute = Bool(f.boolean())
		case 10:
			m.SelfDeaf = Bool(f.boolean())
		case 11:
			m.Texture = f.copyBytes()
		case 12:
			m.PluginContext = f.copyBytes()
		case 13:
			m.PluginIdentity = String(f.str())
		case 14:
			m.Comment = String(f.str())
		case 15:
			m.Hash = String(f.str())
		case 16:
			m.CommentHash = f.copyBytes()
		case 17:
			m.TextureHash = f.copyBytes()
		case 18:
			m.PrioritySpeaker = Bool(f.boolean())
		case 19:
			m.Recording = Bool(f.boolean())
		}
		return nil
	})
}

type TextMessage struct {
	Actor     *uint32
	Sessions  []uint32
	ChannelID []uint32
	TreeID    []uint32
	Message   *string
}

func (m *TextMessage) Kind() Kind { return KindTextMessage }

func (m *TextMessage) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.Actor)
	for i := range m.Sessions {
		b = appendUint32(b, 2, &m.Sessions[i])
	}
	for i := range m.ChannelID {
		b = appendUint32(b, 3, &m.ChannelID[i])
	}
	for i := range m.TreeID {
		b = appendUint32(b, 4, &m.TreeID[i])
	}
	return appendString(b, 5, m.Message)
}

func (m *TextMessage) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		var dst *[]uint32
		switch f.num {
		case 1:
			m.Actor = Uint32(f.u32())
		case 2:
			dst = &m.Sessions
		case 3:
			dst = &m.ChannelID
		case 4:
			dst = &m.TreeID
		case 5:
			m.Message = String(f.str())
		}
		if dst == nil {
			return nil
		}
		vs, err := f.varints()
		if err != nil {
			return err
		}
		for _, v := range vs {
			*dst = append(*dst, uint32(v))
		}
		return nil
	})
}

type CryptSetup struct {
	Key         []byte
	ClientNonce []byte
	ServerNonce []byte
}

func (m *CryptSetup) Kind() Kind { return KindCryptSetup }

func (m *CryptSetup) AppendWire(b []byte) []byte {
	b = appendBytes(b, 1, m.Key)
	b = appendBytes(b, 2, m.ClientNonce)
	return appendBytes(b, 3, m.ServerNonce)
}

func (m *CryptSetup) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.copyBytes()
		case 2:
			m.ClientNonce = f.copyBytes()
		case 3:
			m.ServerNonce = f.copyBytes()
		}
		return nil
	})
}

type PermissionQuery struct {
	ChannelID   *uint32
	Permissions *uint32
	Flush       *bool
}

func (m *PermissionQuery) Kind() Kind { return KindPermissionQuery }

func (m *PermissionQuery) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.ChannelID)
	b = appendUint32(b, 2, m.Permissions)
	return appendBool(b, 3, m.Flush)
}

func (m *PermissionQuery) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.ChannelID = Uint32(f.u32())
		case 2:
			m.Permissions = Uint32(f.u32())
		case 3:
			m.Flush = Bool(f.boolean())
		}
		return nil
	})
}

// CodecVersion states which CELT bitstreams the client prefers.
type CodecVersion struct {
	Alpha       *int32
	Beta        *int32
	PreferAlpha *bool
	Opus        *bool
}

func (m *CodecVersion) Kind() Kind { return KindCodecVersion }

func (m *CodecVersion) AppendWire(b []byte) []byte {
	b = appendInt32(b, 1, m.Alpha)
	b = appendInt32(b, 2, m.Beta)
	b = appendBool(b, 3, m.PreferAlpha)
	return appendBool(b, 4, m.Opus)
}

func (m *CodecVersion) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Alpha = Int32(f.i32())
		case 2:
			m.Beta = Int32(f.i32())
		case 3:
			m.PreferAlpha = Bool(f.boolean())
		case 4:
			m.Opus = Bool(f.boolean())
		}
		return nil
	})
}

type ServerConfig struct {
	MaxBandwidth       *uint32
	WelcomeText        *string
	AllowHTML          *bool
	MessageLength      *uint32
	ImageMessageLength *uint32
	MaxUsers           *uint32
}

func (m *ServerConfig) Kind() Kind { return KindServerConfig }

func (m *ServerConfig) AppendWire(b []byte) []byte {
	b = appendUint32(b, 1, m.MaxBandwidth)
	b = appendString(b, 2, m.WelcomeText)
	b = appendBool(b, 3, m.AllowHTML)
	b = appendUint32(b, 4, m.MessageLength)
	b = appendUint32(b, 5, m.ImageMessageLength)
	return appendUint32(b, 6, m.MaxUsers)
}

func (m *ServerConfig) UnmarshalWire(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.MaxBandwidth = Uint32(f.u32())
		case 2:
			m.WelcomeText = String(f.str())
		case 3:
			m.AllowHTML = Bool(f.boolean())
		case 4:
			m.MessageLength = Uint32(f.u32())
		case 5:
			m.ImageMessageLength = Uint32(f.u32())
		case 6:
			m.MaxUsers = Uint32(f.u32())
		}
		return nil
	})
}

var (
	_ Message = (*Version)(nil)
	_ Message = (*Authenticate)(nil)
	_ Message = (*Ping)(nil)
	_ Message = (*Reject)(nil)
	_ Message = (*ServerSync)(nil)
	_ Message = (*ChannelRemove)(nil)
	_ Message = (*ChannelState)(nil)
	_ Message = (*UserRemove)(nil)
	_ Message = (*UserState)(nil)
	_ Message = (*TextMessage)(nil)
	_ Message = (*CryptSetup)(nil)
	_ Message = (*PermissionQuery)(nil)
	_ Message = (*CodecVersion)(nil)
	_ Message = (*ServerConfig)(nil)
	_ Message = (*Raw)(nil)
)
