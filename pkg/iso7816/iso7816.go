/*
Package iso7816 implements the ISO/IEC 7816-4 command layer that runs on top of
a CCID reader session or any other card connection.

# Commands

Commands are always encoded in extended length form (see BuildExtendedAPDU).
The reader forwards them verbatim inside a PC_to_RDR_XfrBlock message.

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Usage

	client := iso7816.NewClient(session)
	trace, err := client.Send(iso7816.GetChallenge(8))
	if err != nil {
	    log.Fatal(err)
	}
	if trace.IsSuccess() {
	    fmt.Printf("challenge: %X\n", trace.Data())
	}
*/
package iso7816
