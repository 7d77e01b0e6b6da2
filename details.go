package idlite

// FieldFlag selects identity fields for the disclosure mask. Fields whose
// flag is set are placed in the always visible public block at issuance;
// the rest stay in the encrypted private block.
type FieldFlag uint32

const (
	DetailSurname FieldFlag = 1 << iota
	DetailGivenName
	DetailDateOfBirth
	DetailPlaceOfBirth
	DetailUIN
	DetailFullName
	DetailGender
	DetailPostalAddress
)

// Date is a calendar date without a time zone.
type Date struct {
	Year  int `cbor:"y"`
	Month int `cbor:"m"`
	Day   int `cbor:"d"`
}

// PostalAddress holds a structured postal address.
type PostalAddress struct {
	AddressLines []string `cbor:"lines,omitempty"`
	RegionCode   string   `cbor:"region,omitempty"`
	PostalCode   string   `cbor:"postal,omitempty"`
	LanguageCode string   `cbor:"lang,omitempty"`
}

// KV is an arbitrary extra key/value pair attached to an identity.
type KV struct {
	Key   string `cbor:"k"`
	Value string `cbor:"v"`
}

// Details is the structured identity field set carried by a card. A zero
// value field means the field is absent, either because the issuer never
// set it or because it lives in a block the caller cannot see yet.
type Details struct {
	SurName       string         `cbor:"sur,omitempty"`
	GivenName     string         `cbor:"given,omitempty"`
	FullName      string         `cbor:"full,omitempty"`
	UIN           string         `cbor:"uin,omitempty"`
	Gender        int            `cbor:"gender,omitempty"`
	PlaceOfBirth  string         `cbor:"pob,omitempty"`
	DateOfBirth   *Date          `cbor:"dob,omitempty"`
	PostalAddress *PostalAddress `cbor:"addr,omitempty"`
	Extra         []KV           `cbor:"extra,omitempty"`
}

// Ident is the raw personal data supplied at issuance. It is consumed by
// Reader.NewCard and never stored as-is.
type Ident struct {
	UIN           string
	FullName      string
	GivenName     string
	SurName       string
	Gender        int
	PlaceOfBirth  string
	DateOfBirth   *Date
	PostalAddress *PostalAddress
	Pin           string
	Photo         []byte
	PubExtra      []KV
	PrivExtra     []KV
}

// splitDetails divides the identity fields into the public and private
// detail blocks according to the disclosure mask. Public extras always
// go to the public block, private extras to the private one.
func splitDetails(ident *Ident, visible FieldFlag) (public, private Details) {

	place := func(flag FieldFlag, set func(*Details)) {
		if visible&flag != 0 {
			set(&public)
		} else {
			set(&private)
		}
	}

	if ident.SurName != "" {
		place(DetailSurname, func(d *Details) { d.SurName = ident.SurName })
	}
	if ident.GivenName != "" {
		place(DetailGivenName, func(d *Details) { d.GivenName = ident.GivenName })
	}
	if ident.FullName != "" {
		place(DetailFullName, func(d *Details) { d.FullName = ident.FullName })
	}
	if ident.UIN != "" {
		place(DetailUIN, func(d *Details) { d.UIN = ident.UIN })
	}
	if ident.Gender != 0 {
		place(DetailGender, func(d *Details) { d.Gender = ident.Gender })
	}
	if ident.PlaceOfBirth != "" {
		place(DetailPlaceOfBirth, func(d *Details) { d.PlaceOfBirth = ident.PlaceOfBirth })
	}
	if ident.DateOfBirth != nil {
		dob := *ident.DateOfBirth
		place(DetailDateOfBirth, func(d *Details) { d.DateOfBirth = &dob })
	}
	if ident.PostalAddress != nil {
		addr := *ident.PostalAddress
		place(DetailPostalAddress, func(d *Details) { d.PostalAddress = &addr })
	}

	public.Extra = append(public.Extra, ident.PubExtra...)
	private.Extra = append(private.Extra, ident.PrivExtra...)

	return public, private
}

// mergeDetails recomputes the visible detail view. The public block is
// the base; each non-empty private field overrides its public
// counterpart, and extras are unioned with private values overwriting
// public ones by key.
func mergeDetails(public Details, private *Details) Details {

	merged := public

	if private == nil {
		return merged
	}

	if private.SurName != "" {
		merged.SurName = private.SurName
	}
	if private.GivenName != "" {
		merged.GivenName = private.GivenName
	}
	if private.FullName != "" {
		merged.FullName = private.FullName
	}
	if private.UIN != "" {
		merged.UIN = private.UIN
	}
	if private.Gender != 0 {
		merged.Gender = private.Gender
	}
	if private.PlaceOfBirth != "" {
		merged.PlaceOfBirth = private.PlaceOfBirth
	}
	if private.DateOfBirth != nil {
		merged.DateOfBirth = private.DateOfBirth
	}
	if private.PostalAddress != nil {
		merged.PostalAddress = private.PostalAddress
	}

	merged.Extra = mergeExtras(public.Extra, private.Extra)

	return merged
}

func mergeExtras(public, private []KV) []KV {

	merged := make([]KV, len(public))
	copy(merged, public)

	for _, kv := range private {

		replaced := false
		for i := range merged {
			if merged[i].Key == kv.Key {
				merged[i].Value = kv.Value
				replaced = true
				break
			}
		}

		if !replaced {
			merged = append(merged, kv)
		}
	}

	return merged
}
